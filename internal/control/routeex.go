package control

import "fmt"

// RouteEx is the WebSocket route extension. Empty fields match any value.
type RouteEx struct {
	Protocol  string `json:"protocol,omitempty" toml:"protocol"`
	Scheme    string `json:"scheme,omitempty" toml:"scheme"`
	Authority string `json:"authority,omitempty" toml:"authority"`
	Path      string `json:"path,omitempty" toml:"path"`
}

// Sizeof returns the encoded size of the four length-prefixed fields.
func (ex RouteEx) Sizeof() int {
	return sizeString16(ex.Protocol) +
		sizeString16(ex.Scheme) +
		sizeString16(ex.Authority) +
		sizeString16(ex.Path)
}

func (ex RouteEx) validate() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"protocol", ex.Protocol},
		{"scheme", ex.Scheme},
		{"authority", ex.Authority},
		{"path", ex.Path},
	} {
		if len(f.value) > maxStringLen {
			return fmt.Errorf("%w: route extension %s exceeds %d bytes", ErrInvalidField, f.name, maxStringLen)
		}
	}
	return nil
}

// EncodeRouteEx writes ex into dst and returns the number of bytes written.
func EncodeRouteEx(dst []byte, ex RouteEx) (int, error) {
	if err := ex.validate(); err != nil {
		return 0, err
	}
	size := ex.Sizeof()
	if size > len(dst) {
		return 0, fmt.Errorf("%w: route extension needs %d bytes, have %d", ErrEncodingOverflow, size, len(dst))
	}
	w := writer{b: dst}
	w.string16(ex.Protocol)
	w.string16(ex.Scheme)
	w.string16(ex.Authority)
	w.string16(ex.Path)
	return w.off, nil
}

// DecodeRouteEx parses exactly one extension record from src.
func DecodeRouteEx(src []byte) (RouteEx, error) {
	r := reader{b: src}
	ex := RouteEx{
		Protocol:  r.string16(),
		Scheme:    r.string16(),
		Authority: r.string16(),
		Path:      r.string16(),
	}
	if r.err != nil {
		return RouteEx{}, r.err
	}
	if r.remaining() != 0 {
		return RouteEx{}, fmt.Errorf("%w: %d trailing route extension bytes", ErrInvalidLength, r.remaining())
	}
	return ex, nil
}
