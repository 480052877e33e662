package models

import "fmt"

// FormatDocumentReference renders a series code and number as the printable
// document reference, e.g. "T001-00000042".
func FormatDocumentReference(seriesCode string, number int64) string {
	return fmt.Sprintf("%s-%08d", seriesCode, number)
}

// ValidDocumentType reports whether t is one of the known document types.
func ValidDocumentType(t string) bool {
	switch t {
	case DocumentTypeTicket, DocumentTypeReceipt, DocumentTypeInvoice:
		return true
	}
	return false
}
