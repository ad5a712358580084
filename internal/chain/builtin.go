package chain

import (
	"context"

	"git.home.luguber.info/inful/clashchain/internal/document"
)

// Names of the built-in units. User units may not use them.
const (
	DefaultsName = "defaults"
	TunName      = "tun"
)

// Defaults fills structural defaults underneath the document: a default only
// lands where the document has no value of its own.
type Defaults struct {
	defaults *document.Document
}

// NewDefaults returns the defaults unit. A nil document makes it a no-op.
func NewDefaults(defaults *document.Document) *Defaults {
	if defaults == nil {
		defaults = document.New()
	}
	return &Defaults{defaults: defaults.Clone()}
}

func (d *Defaults) Name() string { return DefaultsName }
func (d *Defaults) Kind() Kind   { return KindBuiltin }

func (d *Defaults) Apply(_ context.Context, doc *document.Document, rec *Recorder) (*document.Document, error) {
	if d.defaults.Len() == 0 {
		return doc, nil
	}
	doc.FillDefaults(d.defaults)
	rec.Info("applied structural defaults for %d keys", d.defaults.Len())
	return doc, nil
}

// Tun sets tun.enable from the flag and forces the DNS settings the tun device
// depends on. The DNS part runs for both flag values.
type Tun struct {
	enabled bool
}

// NewTun returns the tun toggle unit.
func NewTun(enabled bool) *Tun {
	return &Tun{enabled: enabled}
}

func (t *Tun) Name() string { return TunName }
func (t *Tun) Kind() Kind   { return KindBuiltin }

func (t *Tun) Apply(_ context.Context, doc *document.Document, rec *Recorder) (*document.Document, error) {
	tun := mappingOrEmpty(doc, "tun")
	dns := mappingOrEmpty(doc, "dns")

	if err := dns.Set("enable", true); err != nil {
		return nil, err
	}
	if err := dns.Set("ipv6", true); err != nil {
		return nil, err
	}
	if err := dns.Set("enhanced-mode", "redir-host"); err != nil {
		return nil, err
	}
	if err := tun.Set("enable", t.enabled); err != nil {
		return nil, err
	}
	if err := doc.Set("tun", tun); err != nil {
		return nil, err
	}
	if err := doc.Set("dns", dns); err != nil {
		return nil, err
	}
	rec.Info("tun.enable=%t", t.enabled)
	return doc, nil
}

// mappingOrEmpty returns the mapping under key, or an empty one when the key is
// absent or holds something else.
func mappingOrEmpty(doc *document.Document, key string) *document.Document {
	if m, ok := doc.Mapping(key); ok {
		return m
	}
	return document.New()
}
