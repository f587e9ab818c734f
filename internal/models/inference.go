package models

// Attachment is one binary payload handed to the inference provider
// alongside a text prompt (a rendered page, a template file).
type Attachment struct {
	MIMEType string
	Data     []byte
}
