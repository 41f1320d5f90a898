// SPDX-License-Identifier: Apache-2.0

// Package xmlexport renders the event log as an XML document.
package xmlexport

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/session-recorder/internal/domain"
)

const (
	Header = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

	rootTag   = "eventLog"
	recordTag = "event"

	// maxPointerHops bounds chains of pointers and interfaces around a
	// single value. Map and slice nesting is not limited.
	maxPointerHops = 32
)

// escaper uses &apos; and &quot;, which encoding/xml does not emit.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

func Escape(s string) string {
	return escaper.Replace(s)
}

// TagName reduces key to the characters allowed in a tag ([A-Za-z0-9_]).
// An empty result becomes "_" and a leading digit is prefixed with "_".
func TagName(key string) string {
	var b strings.Builder
	for _, r := range key {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	tag := b.String()
	if tag == "" {
		return "_"
	}
	if tag[0] >= '0' && tag[0] <= '9' {
		return "_" + tag
	}
	return tag
}

// Serialize renders records in order. It is pure: the same records always
// produce the same document.
func Serialize(records []domain.EventRecord) string {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteString("<" + rootTag + ">\n")
	for _, rec := range records {
		writeRecord(&b, rec)
	}
	b.WriteString("</" + rootTag + ">")
	return b.String()
}

func writeRecord(b *strings.Builder, rec domain.EventRecord) {
	b.WriteString("<" + recordTag + ">")
	writeText(b, "type", rec.Type)
	writeText(b, "time", rec.Timestamp())

	w := &writer{b: b, seen: map[uintptr]bool{}}
	b.WriteString("<details>")
	w.fields(reflect.ValueOf(rec.Details))
	b.WriteString("</details>")

	if rec.Priority != "" {
		writeText(b, "priority", string(rec.Priority))
	}
	b.WriteString("</" + recordTag + ">\n")
}

func writeText(b *strings.Builder, tag, text string) {
	b.WriteString("<" + tag + ">")
	b.WriteString(Escape(text))
	b.WriteString("</" + tag + ">")
}

type writer struct {
	b    *strings.Builder
	seen map[uintptr]bool
}

// fields writes each entry of a map in sorted key order.
func (w *writer) fields(m reflect.Value) {
	if !m.IsValid() || m.Kind() != reflect.Map || m.IsNil() {
		return
	}
	keys := m.MapKeys()
	names := make([]string, len(keys))
	byName := make(map[string]reflect.Value, len(keys))
	for i, k := range keys {
		names[i] = fmt.Sprint(k.Interface())
		byName[names[i]] = m.MapIndex(k)
	}
	sort.Strings(names)
	for _, name := range names {
		w.value(TagName(name), byName[name])
	}
}

func (w *writer) value(tag string, v reflect.Value) {
	for hops := 0; v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer); hops++ {
		if v.IsNil() || hops > maxPointerHops {
			writeText(w.b, tag, "")
			return
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		writeText(w.b, tag, "")
		return
	}

	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			writeText(w.b, tag, "")
			return
		}
		ptr := v.Pointer()
		if w.seen[ptr] {
			writeText(w.b, tag, "[circular]")
			return
		}
		w.seen[ptr] = true
		w.b.WriteString("<" + tag + ">")
		w.fields(v)
		w.b.WriteString("</" + tag + ">")
		delete(w.seen, ptr)

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			writeText(w.b, tag, string(v.Bytes()))
			return
		}
		if v.Kind() == reflect.Slice && !v.IsNil() {
			ptr := v.Pointer()
			if v.Len() > 0 && w.seen[ptr] {
				writeText(w.b, tag, "[circular]")
				return
			}
			if v.Len() > 0 {
				w.seen[ptr] = true
				defer delete(w.seen, ptr)
			}
		}
		for i := 0; i < v.Len(); i++ {
			w.value(tag, v.Index(i))
		}

	default:
		text, ok := scalar(v)
		if !ok {
			w.raw(tag, v)
			return
		}
		writeText(w.b, tag, text)
	}
}

func scalar(v reflect.Value) (string, bool) {
	if v.CanInterface() {
		switch t := v.Interface().(type) {
		case time.Time:
			return domain.FormatTime(t), true
		case time.Duration:
			return strconv.FormatInt(t.Milliseconds(), 10), true
		}
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), true
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10), true
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32), true
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), true
	}
	return "", false
}

// raw degrades a value the serializer cannot structure to JSON text, or to
// its fmt form when even that fails.
func (w *writer) raw(tag string, v reflect.Value) {
	var text string
	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		text = v.Type().String()
	default:
		if v.CanInterface() {
			if data, err := json.Marshal(v.Interface()); err == nil {
				text = string(data)
			} else {
				text = v.Type().String()
			}
		}
	}
	writeText(w.b, tag, text)
}
