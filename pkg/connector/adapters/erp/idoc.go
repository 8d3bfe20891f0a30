package erp

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
	"strings"
	"unicode"

	"github.com/ajitpratap0/interlink/pkg/clients"
	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/connector/base"
	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/debatch"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"go.uber.org/zap"
)

func init() {
	registry.Register(core.Info{
		Type:          models.AdapterERPIDoc,
		Description:   "Posts records as one inbound IDoc XML document per delivery",
		SupportsWrite: true,
		Settings:      []string{"base_url", "username", "password", "token", "idoc_type", "message_type", "segment", "client", "sender_port", "sender_partner", "receiver_port", "receiver_partner", "partner_type"},
	}, func(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error) {
		return NewIDoc(ctx, inst, logger)
	})
}

// IDocSettings configures the erp-idoc connector
type IDocSettings struct {
	config.ConnectorConfig `mapstructure:",squash"`
	Connection             `mapstructure:",squash"`

	IDocType    string `mapstructure:"idoc_type"`
	MessageType string `mapstructure:"message_type"`
	// Segment names the data segment emitted once per record
	Segment string `mapstructure:"segment"`
	// Client is the MANDT of the control record
	Client          string `mapstructure:"client"`
	SenderPort      string `mapstructure:"sender_port"`
	SenderPartner   string `mapstructure:"sender_partner"`
	ReceiverPort    string `mapstructure:"receiver_port"`
	ReceiverPartner string `mapstructure:"receiver_partner"`
	PartnerType     string `mapstructure:"partner_type"`
}

// IDocConnector posts IDoc XML to an inbound endpoint
type IDocConnector struct {
	*base.BaseConnector
	settings IDocSettings
	client   *clients.HTTPClient
	headers  map[string]string
}

// NewIDoc creates an erp-idoc connector
func NewIDoc(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (*IDocConnector, error) {
	s := IDocSettings{PartnerType: "LS"}
	bc, err := base.NewBaseConnector(inst, logger, &s)
	if err != nil {
		return nil, err
	}
	if err := s.Connection.validate(); err != nil {
		return nil, err
	}
	if s.IDocType == "" || s.MessageType == "" || s.Segment == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "idoc_type, message_type and segment are required")
	}
	return &IDocConnector{
		BaseConnector: bc,
		settings:      s,
		client:        s.Connection.client(ctx, bc),
		headers:       s.Connection.headers(),
	}, nil
}

// SupportsRead reports false
func (c *IDocConnector) SupportsRead() bool { return false }

// SupportsWrite reports true
func (c *IDocConnector) SupportsWrite() bool { return true }

// Read is not supported
func (c *IDocConnector) Read(context.Context, string) ([]*core.Batch, error) {
	return nil, c.NotSupported("read")
}

// GetSchema is not supported
func (c *IDocConnector) GetSchema(context.Context, string) (core.Schema, error) {
	return nil, c.NotSupported("get_schema")
}

// Write posts all records as one IDoc. The archive key of the control record
// carries the content hash so the receiver can spot redelivery.
func (c *IDocConnector) Write(ctx context.Context, locator string, columns []string, records []models.Record) (*core.DeliveryResult, error) {
	result := core.NewDeliveryResult(len(records))
	if len(records) == 0 {
		return result, nil
	}
	doc, err := c.render(columns, records, debatch.HashRecords(columns, records))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to render IDoc")
	}

	target := c.settings.BaseURL
	if locator != "" {
		target += "/" + strings.TrimLeft(locator, "/")
	}
	err = c.Execute(ctx, func(ctx context.Context) error {
		_, err := c.client.Do(ctx, &clients.Request{
			Method:      http.MethodPost,
			URL:         target,
			Body:        doc,
			ContentType: "application/xml",
			Headers:     c.headers,
		})
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDeliveryFailed, "IDoc post failed").
			WithDetail("idoc_type", c.settings.IDocType)
	}
	c.GetLogger().Debug("IDoc posted",
		zap.String("interface", core.InterfaceFromContext(ctx)),
		zap.Int("segments", len(records)))
	return result, nil
}

func (c *IDocConnector) render(columns []string, records []models.Record, archiveKey string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	s := c.settings
	root := xml.StartElement{Name: xml.Name{Local: elementName(s.IDocType)}}
	idoc := xml.StartElement{Name: xml.Name{Local: "IDOC"}, Attr: []xml.Attr{{Name: xml.Name{Local: "BEGIN"}, Value: "1"}}}
	segmentAttr := []xml.Attr{{Name: xml.Name{Local: "SEGMENT"}, Value: "1"}}

	control := [][2]string{
		{"TABNAM", "EDI_DC40"},
		{"MANDT", s.Client},
		{"DIRECT", "2"},
		{"IDOCTYP", s.IDocType},
		{"MESTYP", s.MessageType},
		{"SNDPOR", s.SenderPort},
		{"SNDPRT", s.PartnerType},
		{"SNDPRN", s.SenderPartner},
		{"RCVPOR", s.ReceiverPort},
		{"RCVPRT", s.PartnerType},
		{"RCVPRN", s.ReceiverPartner},
		{"ARCKEY", archiveKey},
	}

	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}
	if err := enc.EncodeToken(idoc); err != nil {
		return nil, err
	}
	if err := encodeSegment(enc, "EDI_DC40", segmentAttr, control); err != nil {
		return nil, err
	}
	segment := elementName(s.Segment)
	for _, r := range records {
		fields := make([][2]string, 0, len(columns))
		for _, col := range columns {
			fields = append(fields, [2]string{elementName(col), r.Values[col]})
		}
		if err := encodeSegment(enc, segment, segmentAttr, fields); err != nil {
			return nil, err
		}
	}
	if err := enc.EncodeToken(idoc.End()); err != nil {
		return nil, err
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeSegment writes one segment; empty fields are omitted as IDoc
// receivers treat missing and blank fields alike.
func encodeSegment(enc *xml.Encoder, name string, attr []xml.Attr, fields [][2]string) error {
	start := xml.StartElement{Name: xml.Name{Local: name}, Attr: attr}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := enc.EncodeElement(f[1], xml.StartElement{Name: xml.Name{Local: f[0]}}); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// elementName upper-cases a column name and replaces characters that are
// not valid in an XML element name.
func elementName(s string) string {
	var b strings.Builder
	for i, r := range strings.ToUpper(s) {
		switch {
		case r == '_' || unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsDigit(r) || r == '-' || r == '.':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// Close releases idle connections
func (c *IDocConnector) Close(_ context.Context) error {
	return c.BaseConnector.Close(c.client.Close)
}
