package state

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/roach88/scriptengine/internal/event"
)

// FormatVersion is written to every document. Readers reject newer
// versions.
const FormatVersion = 1

// encBase64 marks text that XML cannot carry verbatim (control characters,
// invalid UTF-8, carriage returns). The text is stored base64 encoded.
const encBase64 = "b64"

type xmlDocument struct {
	XMLName       xml.Name       `xml:"ScriptState"`
	Version       int            `xml:"Version,attr"`
	ItemID        string         `xml:"UUID,attr"`
	AssetID       string         `xml:"Asset,attr"`
	State         string         `xml:"State"`
	Running       bool           `xml:"Running"`
	Variables     *xmlVariables  `xml:"Variables,omitempty"`
	Queue         *xmlQueue      `xml:"Queue,omitempty"`
	Plugins       *xmlList       `xml:"Plugins,omitempty"`
	Permissions   xmlPermissions `xml:"Permissions"`
	MinEventDelay float64        `xml:"MinEventDelay"`
}

// Container elements are pointers so that empty ones are left out;
// encoding/xml writes the parent of an a>b path even for an empty slice.
type xmlVariables struct {
	Items []xmlValue `xml:"Variable"`
}

type xmlQueue struct {
	Items []xmlEvent `xml:"Item"`
}

type xmlList struct {
	Items []xmlValue `xml:"ListItem"`
}

type xmlParams struct {
	Items []xmlValue `xml:"Param"`
}

type xmlDetected struct {
	Items []xmlDetect `xml:"Object"`
}

type xmlValue struct {
	Name  string     `xml:"name,attr,omitempty"`
	Type  string     `xml:"type,attr"`
	Enc   string     `xml:"enc,attr,omitempty"`
	Text  string     `xml:",chardata"`
	Items []xmlValue `xml:"ListItem,omitempty"`
}

type xmlEvent struct {
	Name     string       `xml:"event,attr"`
	Params   *xmlParams   `xml:"Params,omitempty"`
	Detected *xmlDetected `xml:"Detected,omitempty"`
}

type xmlDetect struct {
	Key      string `xml:"key,attr"`
	Owner    string `xml:"owner,attr"`
	Group    string `xml:"group,attr"`
	Name     string `xml:"name,attr"`
	NameEnc  string `xml:"nameEnc,attr,omitempty"`
	Type     int32  `xml:"type,attr"`
	LinkNum  int32  `xml:"linkNum,attr"`
	Position string `xml:"pos,attr"`
	Velocity string `xml:"vel,attr"`
	Rotation string `xml:"rot,attr"`
}

type xmlPermissions struct {
	Granter string `xml:"granter,attr"`
	Mask    int32  `xml:"mask,attr"`
}

// Marshal serializes a snapshot to an indented XML document. Variables are
// written in name order so equal snapshots produce equal bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	doc := xmlDocument{
		Version:       FormatVersion,
		ItemID:        s.ItemID.String(),
		AssetID:       s.AssetID.String(),
		State:         s.State,
		Running:       s.Running,
		Permissions:   xmlPermissions{Granter: s.Permissions.Granter.String(), Mask: s.Permissions.Mask},
		MinEventDelay: s.MinEventDelay.Seconds(),
	}

	for _, name := range s.VariableNames() {
		v, err := encodeValue(s.Variables[name])
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		v.Name = name
		if doc.Variables == nil {
			doc.Variables = &xmlVariables{}
		}
		doc.Variables.Items = append(doc.Variables.Items, v)
	}

	for i, rec := range s.Queue {
		ev, err := encodeEvent(rec)
		if err != nil {
			return nil, fmt.Errorf("queued event %d (%s): %w", i, rec.Name(), err)
		}
		if doc.Queue == nil {
			doc.Queue = &xmlQueue{}
		}
		doc.Queue.Items = append(doc.Queue.Items, ev)
	}

	for i, p := range s.Plugins {
		v, err := encodeValue(p)
		if err != nil {
			return nil, fmt.Errorf("plugin value %d: %w", i, err)
		}
		if doc.Plugins == nil {
			doc.Plugins = &xmlList{}
		}
		doc.Plugins.Items = append(doc.Plugins.Items, v)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Unmarshal parses a document produced by Marshal.
func Unmarshal(data []byte) (*Snapshot, error) {
	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if doc.Version > FormatVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported version %d", doc.Version, FormatVersion)
	}

	s := &Snapshot{
		State:         doc.State,
		Running:       doc.Running,
		Variables:     make(map[string]event.Value),
		Permissions:   Permissions{Mask: doc.Permissions.Mask},
		MinEventDelay: time.Duration(doc.MinEventDelay * float64(time.Second)),
	}

	var err error
	if s.ItemID, err = parseUUID(doc.ItemID); err != nil {
		return nil, fmt.Errorf("item id: %w", err)
	}
	if s.AssetID, err = parseUUID(doc.AssetID); err != nil {
		return nil, fmt.Errorf("asset id: %w", err)
	}
	if s.Permissions.Granter, err = parseUUID(doc.Permissions.Granter); err != nil {
		return nil, fmt.Errorf("permission granter: %w", err)
	}

	var vars []xmlValue
	if doc.Variables != nil {
		vars = doc.Variables.Items
	}
	for _, xv := range vars {
		if xv.Name == "" {
			return nil, fmt.Errorf("variable without name")
		}
		v, err := decodeValue(xv)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", xv.Name, err)
		}
		s.Variables[xv.Name] = v
	}

	var queue []xmlEvent
	if doc.Queue != nil {
		queue = doc.Queue.Items
	}
	for i, xe := range queue {
		rec, err := decodeEvent(xe)
		if err != nil {
			return nil, fmt.Errorf("queued event %d: %w", i, err)
		}
		s.Queue = append(s.Queue, rec)
	}

	var plugins []xmlValue
	if doc.Plugins != nil {
		plugins = doc.Plugins.Items
	}
	for i, xv := range plugins {
		v, err := decodeValue(xv)
		if err != nil {
			return nil, fmt.Errorf("plugin value %d: %w", i, err)
		}
		s.Plugins = append(s.Plugins, v)
	}

	return s, nil
}

func encodeValue(v event.Value) (xmlValue, error) {
	if v == nil {
		return xmlValue{}, fmt.Errorf("nil value")
	}
	if list, ok := v.(event.List); ok {
		out := xmlValue{Type: event.TypeList}
		for i, item := range list {
			xv, err := encodeValue(item)
			if err != nil {
				return xmlValue{}, fmt.Errorf("list item %d: %w", i, err)
			}
			out.Items = append(out.Items, xv)
		}
		return out, nil
	}
	text, enc := encodeText(v.String())
	return xmlValue{Type: v.TypeName(), Enc: enc, Text: text}, nil
}

func decodeValue(xv xmlValue) (event.Value, error) {
	if xv.Type != event.TypeList {
		text, err := decodeText(xv.Text, xv.Enc)
		if err != nil {
			return nil, err
		}
		return event.ParseValue(xv.Type, text)
	}
	list := make(event.List, 0, len(xv.Items))
	for i, item := range xv.Items {
		v, err := decodeValue(item)
		if err != nil {
			return nil, fmt.Errorf("list item %d: %w", i, err)
		}
		list = append(list, v)
	}
	return list, nil
}

func encodeEvent(rec event.Record) (xmlEvent, error) {
	out := xmlEvent{Name: rec.Name()}
	for i, arg := range rec.Args() {
		xv, err := encodeValue(arg)
		if err != nil {
			return xmlEvent{}, fmt.Errorf("param %d: %w", i, err)
		}
		if out.Params == nil {
			out.Params = &xmlParams{}
		}
		out.Params.Items = append(out.Params.Items, xv)
	}
	for _, d := range rec.Detect() {
		if out.Detected == nil {
			out.Detected = &xmlDetected{}
		}
		name, nameEnc := encodeText(d.Name)
		out.Detected.Items = append(out.Detected.Items, xmlDetect{
			Key:      d.Key.String(),
			Owner:    d.Owner.String(),
			Group:    d.Group.String(),
			Name:     name,
			NameEnc:  nameEnc,
			Type:     d.Type,
			LinkNum:  d.LinkNum,
			Position: d.Position.String(),
			Velocity: d.Velocity.String(),
			Rotation: d.Rotation.String(),
		})
	}
	return out, nil
}

func decodeEvent(xe xmlEvent) (event.Record, error) {
	if xe.Name == "" {
		return event.Record{}, fmt.Errorf("event without name")
	}

	var params []xmlValue
	if xe.Params != nil {
		params = xe.Params.Items
	}
	args := make([]event.Value, 0, len(params))
	for i, xp := range params {
		v, err := decodeValue(xp)
		if err != nil {
			return event.Record{}, fmt.Errorf("%s param %d: %w", xe.Name, i, err)
		}
		args = append(args, v)
	}

	var detected []xmlDetect
	if xe.Detected != nil {
		detected = xe.Detected.Items
	}
	detect := make([]event.DetectParam, 0, len(detected))
	for i, xd := range detected {
		d, err := decodeDetect(xd)
		if err != nil {
			return event.Record{}, fmt.Errorf("%s detected %d: %w", xe.Name, i, err)
		}
		detect = append(detect, d)
	}

	return event.NewRecord(xe.Name, args, detect), nil
}

func decodeDetect(xd xmlDetect) (event.DetectParam, error) {
	d := event.DetectParam{Type: xd.Type, LinkNum: xd.LinkNum}

	var err error
	if d.Name, err = decodeText(xd.Name, xd.NameEnc); err != nil {
		return d, fmt.Errorf("name: %w", err)
	}
	if d.Key, err = parseUUID(xd.Key); err != nil {
		return d, fmt.Errorf("key: %w", err)
	}
	if d.Owner, err = parseUUID(xd.Owner); err != nil {
		return d, fmt.Errorf("owner: %w", err)
	}
	if d.Group, err = parseUUID(xd.Group); err != nil {
		return d, fmt.Errorf("group: %w", err)
	}

	vectors := []struct {
		text string
		dst  *event.Vector
	}{
		{xd.Position, &d.Position},
		{xd.Velocity, &d.Velocity},
	}
	for _, vec := range vectors {
		v, err := event.ParseValue(event.TypeVector, vec.text)
		if err != nil {
			return d, err
		}
		*vec.dst = v.(event.Vector)
	}

	rot, err := event.ParseValue(event.TypeRotation, xd.Rotation)
	if err != nil {
		return d, err
	}
	d.Rotation = rot.(event.Rotation)
	return d, nil
}

// parseUUID accepts an empty string as the nil UUID.
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return id, nil
}

// encodeText returns s unchanged when it survives an XML round trip, and
// its base64 form with encBase64 otherwise.
func encodeText(s string) (text, enc string) {
	if xmlSafe(s) {
		return s, ""
	}
	return base64.StdEncoding.EncodeToString([]byte(s)), encBase64
}

func decodeText(text, enc string) (string, error) {
	switch enc {
	case "":
		return text, nil
	case encBase64:
		b, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return "", fmt.Errorf("decode %s text: %w", enc, err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unknown text encoding %q", enc)
	}
}

// xmlSafe reports whether s is valid UTF-8 made only of XML characters.
// Carriage returns are excluded because parsers normalize them to '\n'.
func xmlSafe(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n':
		case r < 0x20:
			return false
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= utf8.MaxRune:
		default:
			return false
		}
	}
	return true
}
