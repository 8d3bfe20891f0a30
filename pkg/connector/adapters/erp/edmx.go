package erp

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/errors"
)

// edmx is the subset of an OData $metadata document needed to describe an
// entity set. Element names match regardless of the EDMX version namespace.
type edmx struct {
	XMLName      xml.Name     `xml:"Edmx"`
	DataServices dataServices `xml:"DataServices"`
}

type dataServices struct {
	Schemas []edmSchema `xml:"Schema"`
}

type edmSchema struct {
	Namespace   string            `xml:"Namespace,attr"`
	EntityTypes []entityType      `xml:"EntityType"`
	Containers  []entityContainer `xml:"EntityContainer"`
}

type entityType struct {
	Name       string        `xml:"Name,attr"`
	Keys       []propertyRef `xml:"Key>PropertyRef"`
	Properties []property    `xml:"Property"`
}

type propertyRef struct {
	Name string `xml:"Name,attr"`
}

type property struct {
	Name      string `xml:"Name,attr"`
	Type      string `xml:"Type,attr"`
	MaxLength string `xml:"MaxLength,attr"`
	Precision string `xml:"Precision,attr"`
	Scale     string `xml:"Scale,attr"`
}

type entityContainer struct {
	EntitySets []entitySet `xml:"EntitySet"`
}

type entitySet struct {
	Name       string `xml:"Name,attr"`
	EntityType string `xml:"EntityType,attr"`
}

func parseMetadata(data []byte) (*edmx, error) {
	var doc edmx
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformedPayload, "invalid $metadata document")
	}
	return &doc, nil
}

// entityType resolves an entity set name, or an entity type name, to its type.
func (d *edmx) entityType(name string) (*entityType, bool) {
	typeName := ""
	for _, s := range d.DataServices.Schemas {
		for _, c := range s.Containers {
			for _, es := range c.EntitySets {
				if strings.EqualFold(es.Name, name) {
					typeName = es.EntityType
				}
			}
		}
	}
	if typeName == "" {
		typeName = name
	}

	for i := range d.DataServices.Schemas {
		s := &d.DataServices.Schemas[i]
		for j := range s.EntityTypes {
			et := &s.EntityTypes[j]
			if strings.EqualFold(et.Name, typeName) || strings.EqualFold(s.Namespace+"."+et.Name, typeName) {
				return et, true
			}
		}
	}
	return nil, false
}

func (d *edmx) schema(name string) (core.Schema, error) {
	et, ok := d.entityType(name)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "entity set %s not found in $metadata", name)
	}
	out := make(core.Schema, len(et.Properties))
	for _, p := range et.Properties {
		precision := atoi(p.Precision)
		if precision == 0 {
			precision = atoi(p.MaxLength)
		}
		out[p.Name] = core.ColumnSchema{
			DataType:   p.Type,
			NativeType: p.Type,
			Precision:  precision,
			Scale:      atoi(p.Scale),
		}
	}
	return out, nil
}

// atoi returns 0 for empty and symbolic values such as "max" or "variable".
func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
