package importer

import (
	"io"
	"strings"
)

func ptr(v float64) *float64 { return &v }

func stringsReader(s string) io.Reader { return strings.NewReader(s) }
