package campaign

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

// DefaultLanguage is used when no template exists for a lead's language.
const DefaultLanguage = "en"

// ErrUnknownTemplate is returned when no template matches an id.
var ErrUnknownTemplate = errors.New("unknown template")

//go:embed templates.yaml
var builtinTemplates []byte

// Sender describes the outreach sender as seen by templates.
type Sender struct {
	Company         string   `mapstructure:"company" yaml:"company"`
	Name            string   `mapstructure:"name" yaml:"name"`
	Title           string   `mapstructure:"title" yaml:"title"`
	ContactInfo     string   `mapstructure:"contact_info" yaml:"contact_info"`
	MonthlyCapacity string   `mapstructure:"monthly_capacity" yaml:"monthly_capacity"`
	Specializations []string `mapstructure:"specializations" yaml:"specializations"`
	Certifications  []string `mapstructure:"certifications" yaml:"certifications"`
	MOQ             string   `mapstructure:"moq" yaml:"moq"`
	LeadTime        string   `mapstructure:"lead_time" yaml:"lead_time"`
	PaymentTerms    string   `mapstructure:"payment_terms" yaml:"payment_terms"`
	ShippingInfo    string   `mapstructure:"shipping_info" yaml:"shipping_info"`
	// CatalogFiles are attached to templates that offer the catalog.
	CatalogFiles []string `mapstructure:"catalog_files" yaml:"catalog_files"`
}

// Template is one message template in one language.
type Template struct {
	ID            string `yaml:"id"`
	Language      string `yaml:"language"`
	Subject       string `yaml:"subject"`
	Body          string `yaml:"body"`
	AttachCatalog bool   `yaml:"attach_catalog"`
}

// Message is a rendered email ready for a Transport.
type Message struct {
	To          string
	Subject     string
	Body        string
	TemplateID  string
	Language    string
	Attachments []string
}

// RenderData is the value templates execute against.
type RenderData struct {
	Lead        lead.Lead
	Sender      Sender
	ContactName string
}

type templateFile struct {
	CountryLanguages map[string]string `yaml:"country_languages"`
	Templates        []Template        `yaml:"templates"`
}

type compiled struct {
	def     Template
	subject *template.Template
	body    *template.Template
}

var funcs = template.FuncMap{
	"bullets": func(items []string) string {
		lines := make([]string, 0, len(items))
		for _, item := range items {
			lines = append(lines, "• "+item)
		}
		return strings.Join(lines, "\n")
	},
	"join": func(items []string) string { return strings.Join(items, ", ") },
}

// Catalog holds templates keyed by id and language.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]compiled
	languages map[string]string
}

// NewCatalog returns a catalog holding the built-in templates. Entries in
// countryLanguages override the built-in country to language mapping.
func NewCatalog(countryLanguages map[string]string) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]compiled), languages: make(map[string]string)}
	if err := c.LoadYAML(builtinTemplates); err != nil {
		return nil, fmt.Errorf("load built-in templates: %w", err)
	}
	for country, lang := range countryLanguages {
		c.languages[normalizeCountry(country)] = strings.ToLower(lang)
	}
	return c, nil
}

// LoadFile adds templates and country mappings from a YAML file.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied templates file.
	if err != nil {
		return fmt.Errorf("read templates file: %w", err)
	}
	if err := c.LoadYAML(data); err != nil {
		return fmt.Errorf("templates file %s: %w", path, err)
	}
	return nil
}

// LoadYAML adds templates and country mappings from YAML bytes. Later
// definitions replace earlier ones with the same id and language.
func (c *Catalog) LoadYAML(data []byte) error {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode templates: %w", err)
	}
	for _, t := range file.Templates {
		if err := c.Add(t); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for country, lang := range file.CountryLanguages {
		c.languages[normalizeCountry(country)] = strings.ToLower(lang)
	}
	return nil
}

// Add compiles and registers t.
func (c *Catalog) Add(t Template) error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return fmt.Errorf("template id is required")
	}
	t.Language = strings.ToLower(strings.TrimSpace(t.Language))
	if t.Language == "" {
		t.Language = DefaultLanguage
	}
	key := templateKey(t.ID, t.Language)
	subject, err := template.New(key + ":subject").Option("missingkey=error").Funcs(funcs).Parse(t.Subject)
	if err != nil {
		return fmt.Errorf("template %s subject: %w", key, err)
	}
	body, err := template.New(key + ":body").Option("missingkey=error").Funcs(funcs).Parse(t.Body)
	if err != nil {
		return fmt.Errorf("template %s body: %w", key, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[key] = compiled{def: t, subject: subject, body: body}
	return nil
}

// Has reports whether any language of id is registered.
func (c *Catalog) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key := range c.templates {
		if strings.HasPrefix(key, id+"/") {
			return true
		}
	}
	return false
}

// IDs lists template ids with their languages, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.templates))
	for key := range c.templates {
		out = append(out, key)
	}
	slices.Sort(out)
	return out
}

// LanguageFor maps a country to a template language.
func (c *Catalog) LanguageFor(country string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if lang, ok := c.languages[normalizeCountry(country)]; ok {
		return lang
	}
	return DefaultLanguage
}

// Render executes template id for l in the language of l's country, falling
// back to English.
func (c *Catalog) Render(id string, l lead.Lead, sender Sender) (Message, error) {
	lang := c.LanguageFor(l.Country)
	c.mu.RLock()
	tmpl, ok := c.templates[templateKey(id, lang)]
	if !ok {
		tmpl, ok = c.templates[templateKey(id, DefaultLanguage)]
	}
	c.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}

	data := RenderData{Lead: l, Sender: sender, ContactName: l.ContactName}
	if strings.TrimSpace(data.ContactName) == "" {
		data.ContactName = "Sir/Madam"
	}
	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", id, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", id, err)
	}
	msg := Message{
		To:         l.Email,
		Subject:    strings.TrimSpace(subject.String()),
		Body:       body.String(),
		TemplateID: id,
		Language:   tmpl.def.Language,
	}
	if tmpl.def.AttachCatalog {
		msg.Attachments = slices.Clone(sender.CatalogFiles)
	}
	return msg, nil
}

func templateKey(id, lang string) string {
	return id + "/" + lang
}

func normalizeCountry(country string) string {
	return strings.ToLower(strings.Join(strings.Fields(country), " "))
}
