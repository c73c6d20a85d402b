package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/nocbroker/internal/config"
	"github.com/fyrsmithlabs/nocbroker/internal/stage"
)

// Document section and key names.
const (
	sectionProject  = "projectMetadata"
	sectionGraph    = "graphVerilogMetadata"
	sectionQuartus  = "quartusMetadata"
	sectionDatabase = "databaseMetadata"

	keyName             = "name"
	keyGraphSerialized  = "graphSerialized"
	keyVerilogGenerated = "verilogGenerated"
	keyQuartusCompiled  = "quartusCompiled"
	keyDeviceName       = "deviceName"
	keyWrittenToDB      = "writtenToDB"
	keyDBIP             = "dbIp"
	keyDBUsername       = "dbUsername"
	keyDBPassword       = "dbPassword"
	keyDBName           = "dbName"
	keyDBPort           = "dbPort"
)

// indent matches the four-space layout the pipeline tools write.
const indent = "    "

// fieldReader pulls typed fields out of a decoded document and records the
// problems it finds.
type fieldReader struct {
	doc  map[string]any
	errs []string
}

func (r *fieldReader) fail(format string, args ...any) {
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}

func (r *fieldReader) section(name string) map[string]any {
	raw, ok := r.doc[name]
	if !ok {
		r.fail("missing section %s", name)
		return nil
	}
	sec, ok := raw.(map[string]any)
	if !ok {
		r.fail("section %s is %T, want object", name, raw)
		return nil
	}
	return sec
}

func (r *fieldReader) boolean(sec map[string]any, secName, key string) bool {
	if sec == nil {
		return false
	}
	raw, ok := sec[key]
	if !ok {
		r.fail("missing %s.%s", secName, key)
		return false
	}
	v, ok := raw.(bool)
	if !ok {
		r.fail("%s.%s is %T, want bool", secName, key, raw)
	}
	return v
}

func (r *fieldReader) str(sec map[string]any, secName, key string, required bool) string {
	if sec == nil {
		return ""
	}
	raw, ok := sec[key]
	if !ok {
		if required {
			r.fail("missing %s.%s", secName, key)
		}
		return ""
	}
	v, ok := raw.(string)
	if !ok {
		r.fail("%s.%s is %T, want string", secName, key, raw)
	}
	return v
}

func (r *fieldReader) integer(sec map[string]any, secName, key string, def int) int {
	if sec == nil {
		return def
	}
	raw, ok := sec[key]
	if !ok {
		return def
	}
	n, ok := raw.(json.Number)
	if !ok {
		r.fail("%s.%s is %T, want integer", secName, key, raw)
		return def
	}
	v, err := n.Int64()
	if err != nil {
		r.fail("%s.%s is %s, want integer", secName, key, n)
		return def
	}
	return int(v)
}

func (r *fieldReader) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCorruptMetadata, strings.Join(r.errs, "; "))
}

// Decode parses a sidecar document. Missing required fields, wrong types and
// non-monotonic flags all fail with ErrCorruptMetadata.
func Decode(data []byte) (*Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is null", ErrCorruptMetadata)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after document", ErrCorruptMetadata)
	}

	r := &fieldReader{doc: doc}

	proj := r.section(sectionProject)
	graph := r.section(sectionGraph)
	quartus := r.section(sectionQuartus)
	db := r.section(sectionDatabase)

	m := &Metadata{
		Name:   r.str(proj, sectionProject, keyName, true),
		Device: r.str(quartus, sectionQuartus, keyDeviceName, false),
		Database: DatabaseSettings{
			Host:     r.str(db, sectionDatabase, keyDBIP, false),
			User:     r.str(db, sectionDatabase, keyDBUsername, false),
			Password: config.Secret(r.str(db, sectionDatabase, keyDBPassword, false)),
			Name:     r.str(db, sectionDatabase, keyDBName, false),
			Port:     r.integer(db, sectionDatabase, keyDBPort, UnsetPort),
		},
		doc: doc,
	}

	flags := [stage.NumFlags]bool{
		stage.FlagGraphSerialized:  r.boolean(graph, sectionGraph, keyGraphSerialized),
		stage.FlagVerilogGenerated: r.boolean(graph, sectionGraph, keyVerilogGenerated),
		stage.FlagQuartusCompiled:  r.boolean(quartus, sectionQuartus, keyQuartusCompiled),
		stage.FlagWrittenToDB:      r.boolean(db, sectionDatabase, keyWrittenToDB),
	}

	if p := m.Database.Port; p != UnsetPort && (p < 0 || p > maxPort) {
		r.fail("%s.%s is %d, want -1 or 0..%d", sectionDatabase, keyDBPort, p, maxPort)
	}

	if err := r.err(); err != nil {
		return nil, err
	}
	if m.Name == "" {
		return nil, fmt.Errorf("%w: empty %s.%s", ErrCorruptMetadata, sectionProject, keyName)
	}

	p, err := stage.FromFlags(flags)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptMetadata, err)
	}
	m.Progress = p

	return m, nil
}

// Encode renders m as a sidecar document, overlaying the broker-owned fields
// on any preserved document content.
func Encode(m *Metadata) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	doc := cloneDoc(m.doc)
	if doc == nil {
		doc = make(map[string]any, 4)
	}

	flags := m.Progress.Flags()

	set(doc, sectionProject, map[string]any{
		keyName: m.Name,
	})
	set(doc, sectionGraph, map[string]any{
		keyGraphSerialized:  flags[stage.FlagGraphSerialized],
		keyVerilogGenerated: flags[stage.FlagVerilogGenerated],
	})
	set(doc, sectionQuartus, map[string]any{
		keyQuartusCompiled: flags[stage.FlagQuartusCompiled],
	})
	set(doc, sectionDatabase, map[string]any{
		keyWrittenToDB: flags[stage.FlagWrittenToDB],
	})

	// A fresh record carries the full layout. A decoded one only gains an
	// optional key once it holds a value.
	full := m.doc == nil
	setOptional(doc, sectionQuartus, keyDeviceName, m.Device, full || m.Device != "")
	setOptional(doc, sectionDatabase, keyDBIP, m.Database.Host, full || m.Database.Host != "")
	setOptional(doc, sectionDatabase, keyDBUsername, m.Database.User, full || m.Database.User != "")
	setOptional(doc, sectionDatabase, keyDBPassword, m.Database.Password.Value(), full || m.Database.Password.IsSet())
	setOptional(doc, sectionDatabase, keyDBName, m.Database.Name, full || m.Database.Name != "")
	setOptional(doc, sectionDatabase, keyDBPort, m.Database.Port, full || m.Database.Port != UnsetPort)

	data, err := json.MarshalIndent(doc, "", indent)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return append(data, '\n'), nil
}

// set merges fields into the named section, keeping unknown keys.
func set(doc map[string]any, name string, fields map[string]any) {
	sec, ok := doc[name].(map[string]any)
	if !ok {
		sec = make(map[string]any, len(fields))
		doc[name] = sec
	}
	for k, v := range fields {
		sec[k] = v
	}
}

// setOptional writes an optional key when it holds a value or the section
// already has it.
func setOptional(doc map[string]any, name, key string, v any, hasValue bool) {
	sec := doc[name].(map[string]any)
	if _, ok := sec[key]; ok || hasValue {
		sec[key] = v
	}
}

func cloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
