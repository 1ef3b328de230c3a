// Package engine is the composition root: it turns a YAML configuration into
// ready-to-use [languagemodel.Client] values, one per configured provider.
// Frontends look clients up by provider name and never build adapters
// themselves. Additional backend kinds can be plugged in with
// [RegisterProvider].
package engine
