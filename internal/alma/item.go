package alma

import (
	"bytes"
	"encoding/xml"
	"io"

	"enumchron/internal/enumchron"

	"github.com/pkg/errors"
)

// ItemRef addresses one physical item.
type ItemRef struct {
	MMSID     string
	HoldingID string
	ItemPID   string
}

func (r ItemRef) validate() error {
	if r.MMSID == "" || r.HoldingID == "" || r.ItemPID == "" {
		return errors.Errorf("incomplete item reference %+v", r)
	}
	return nil
}

// Item is an item record as returned by the API. The raw document is kept so
// that an update sends back every element the API returned.
type Item struct {
	raw []byte

	Link        string
	Title       string
	MMSID       string
	HoldingID   string
	PID         string
	Barcode     string
	Description string
	Fields      enumchron.Fields // enumeration/chronology currently on the record
}

type itemView struct {
	XMLName xml.Name `xml:"item"`
	Link    string   `xml:"link,attr"`
	BibData struct {
		MMSID string `xml:"mms_id"`
		Title string `xml:"title"`
	} `xml:"bib_data"`
	HoldingData struct {
		HoldingID string `xml:"holding_id"`
	} `xml:"holding_data"`
	ItemData struct {
		PID          string `xml:"pid"`
		Barcode      string `xml:"barcode"`
		Description  string `xml:"description"`
		EnumerationA string `xml:"enumeration_a"`
		EnumerationB string `xml:"enumeration_b"`
		EnumerationC string `xml:"enumeration_c"`
		ChronologyI  string `xml:"chronology_i"`
		ChronologyJ  string `xml:"chronology_j"`
		ChronologyK  string `xml:"chronology_k"`
	} `xml:"item_data"`
}

// ParseItem decodes an item document.
func ParseItem(data []byte) (*Item, error) {
	var v itemView
	if err := xml.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "decode item")
	}
	return &Item{
		raw:         append([]byte(nil), data...),
		Link:        v.Link,
		Title:       v.BibData.Title,
		MMSID:       v.BibData.MMSID,
		HoldingID:   v.HoldingData.HoldingID,
		PID:         v.ItemData.PID,
		Barcode:     v.ItemData.Barcode,
		Description: v.ItemData.Description,
		Fields: enumchron.Fields{
			EnumA:  v.ItemData.EnumerationA,
			EnumB:  v.ItemData.EnumerationB,
			EnumC:  v.ItemData.EnumerationC,
			ChronI: v.ItemData.ChronologyI,
			ChronJ: v.ItemData.ChronologyJ,
			ChronK: v.ItemData.ChronologyK,
		},
	}, nil
}

// Raw returns the current XML document.
func (it *Item) Raw() []byte {
	return it.raw
}

// HasEnumChron reports whether the record already carries any enumeration
// or chronology value.
func (it *Item) HasEnumChron() bool {
	return !it.Fields.IsZero()
}

// Apply writes fields into the document's item_data. Elements already on the
// record are replaced, emptied when the new value is empty; missing elements
// are appended only for non-empty values. Everything else is left as is.
func (it *Item) Apply(fields enumchron.Fields) error {
	out, err := rewriteItemData(it.raw, fields.Map())
	if err != nil {
		return err
	}
	updated, err := ParseItem(out)
	if err != nil {
		return err
	}
	*it = *updated
	return nil
}

// rewriteItemData streams the document, swapping the content of the
// item_data children named in values.
func rewriteItemData(raw []byte, values map[string]string) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)

	depth := 0
	inItemData, sawItemData := false, false
	written := make(map[string]bool, len(values))

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read item document")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 && t.Name.Local == "item_data" {
				inItemData, sawItemData = true, true
			}
			if v, ok := values[t.Name.Local]; ok && inItemData && depth == 3 {
				if err := dec.Skip(); err != nil {
					return nil, errors.Wrapf(err, "skip %s", t.Name.Local)
				}
				depth--
				if err := encodeElement(enc, t.Name.Local, v); err != nil {
					return nil, err
				}
				written[t.Name.Local] = true
				continue
			}
		case xml.EndElement:
			if inItemData && depth == 2 {
				for _, name := range enumchron.ItemDataFields {
					if v := values[name]; v != "" && !written[name] {
						if err := encodeElement(enc, name, v); err != nil {
							return nil, err
						}
					}
				}
				inItemData = false
			}
			depth--
		}

		if err := enc.EncodeToken(xml.CopyToken(tok)); err != nil {
			return nil, errors.Wrap(err, "write item document")
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, errors.Wrap(err, "flush item document")
	}
	if !sawItemData {
		return nil, errors.New("item document has no item_data element")
	}
	return buf.Bytes(), nil
}

func encodeElement(enc *xml.Encoder, name, value string) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeElement(value, start); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}
