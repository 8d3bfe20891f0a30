package crm

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/url"
	"strconv"

	"github.com/ajitpratap0/interlink/pkg/errors"
)

// pageFetchXML sets the paging attributes on the root fetch element.
func pageFetchXML(fetch string, page, count int, cookie string) (string, error) {
	dec := xml.NewDecoder(bytes.NewBufferString(fetch))
	var out bytes.Buffer
	enc := xml.NewEncoder(&out)

	rootSeen := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid fetch_xml")
		}
		if start, ok := tok.(xml.StartElement); ok && !rootSeen {
			rootSeen = true
			if start.Name.Local != "fetch" {
				return "", errors.Newf(errors.ErrorTypeConfig, "fetch_xml root must be <fetch>, got <%s>", start.Name.Local)
			}
			start.Attr = setAttr(start.Attr, "page", strconv.Itoa(page))
			if count > 0 {
				start.Attr = setAttr(start.Attr, "count", strconv.Itoa(count))
			}
			if cookie != "" {
				start.Attr = setAttr(start.Attr, "paging-cookie", cookie)
			}
			tok = start
		}
		if err := enc.EncodeToken(xml.CopyToken(tok)); err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid fetch_xml")
		}
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	if !rootSeen {
		return "", errors.New(errors.ErrorTypeConfig, "fetch_xml is empty")
	}
	return out.String(), nil
}

func setAttr(attrs []xml.Attr, name, value string) []xml.Attr {
	for i, a := range attrs {
		if a.Name.Local == name {
			attrs[i].Value = value
			return attrs
		}
	}
	return append(attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// pagingCookie extracts the cookie to send with the next page from the
// response annotation, which wraps it twice URL-encoded in a <cookie> element.
func pagingCookie(annotation string) (string, error) {
	var c struct {
		PagingCookie string `xml:"pagingcookie,attr"`
	}
	if err := xml.Unmarshal([]byte(annotation), &c); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeMalformedPayload, "invalid paging cookie")
	}
	v := c.PagingCookie
	for i := 0; i < 2; i++ {
		u, err := url.QueryUnescape(v)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeMalformedPayload, "invalid paging cookie")
		}
		v = u
	}
	return v, nil
}
