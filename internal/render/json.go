package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// JSON writes one object per frame, newline delimited. Members keep the
// order they are rendered in.
type JSON struct {
	w io.Writer
}

// NewJSON returns a JSON stream renderer.
func NewJSON(w io.Writer) *JSON {
	return &JSON{w: w}
}

// Render writes f as a single line.
func (j *JSON) Render(f Frame) error {
	data, err := json.Marshal(frameObject(f))
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data = append(data, '\n')
	if _, err := j.w.Write(data); err != nil {
		return err
	}
	return flush(j.w)
}

func frameObject(f Frame) object {
	out := object{
		{"period", object{
			{"duration", number(float64(f.Period.Nanoseconds()) / 1e6)},
			{"unit", "ms"},
		}},
	}
	out = out.appendGroup("frequency", "MHz",
		member{"requested", f.FreqRequested},
		member{"actual", f.FreqActual},
	)
	out = out.appendGroup("interrupts", "irq/s", member{"count", f.Interrupts})
	out = out.appendGroup("rc6", "%", member{"value", f.RC6})
	out = out.appendGroup("power", "W",
		member{"GPU", f.PowerGPU},
		member{"Package", f.PowerPkg},
	)
	out = out.appendGroup("imc-bandwidth", f.IMCUnit,
		member{"reads", f.IMCReads},
		member{"writes", f.IMCWrites},
	)

	engines := object{}
	for _, e := range f.Engines {
		engines = engines.appendGroup(e.Name, "%",
			member{"busy", e.Busy},
			member{"sema", e.Sema},
			member{"wait", e.Wait},
		)
	}
	out = append(out, member{"engines", engines})

	clients := object{}
	for _, c := range f.Clients {
		classes := object{}
		for _, info := range f.Classes {
			var busy float64
			if int(info.Class) < len(c.Busy) {
				busy = c.Busy[info.Class].Value
			}
			classes = append(classes, member{info.Name, object{
				{"busy", strconv.FormatFloat(busy, 'f', 6, 64)},
				{"unit", "%"},
			}})
		}
		clients = append(clients, member{c.ID.String(), object{
			{"name", c.Name},
			{"pid", strconv.Itoa(c.PID)},
			{"engine-classes", classes},
		}})
	}
	return append(out, member{"clients", clients})
}

type member struct {
	key   string
	value any
}

// object is a JSON object with ordered members.
type object []member

// appendGroup adds key with the present metrics of items and unit. Groups
// without any present metric are left out.
func (o object) appendGroup(key, unit string, items ...member) object {
	group := object{}
	for _, item := range items {
		if m, ok := item.value.(Metric); ok {
			if !m.OK {
				continue
			}
			item.value = number(m.Value)
		}
		group = append(group, item)
	}
	if len(group) == 0 {
		return o
	}
	group = append(group, member{"unit", unit})
	return append(o, member{key, group})
}

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(m.value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", m.key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// number is a float rendered with fixed precision.
type number float64

func (n number) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, float64(n), 'f', 6, 64), nil
}
