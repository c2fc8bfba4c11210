// Package detector guesses the format of a coverage report from its first
// bytes, with the file name as a fallback hint.
package detector

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/prcover/internal/application"
)

// sniffSize is how much of a report is examined for content detection.
const sniffSize = 4096

type sniffer struct {
	format application.Format
	match  func(head []byte) bool
}

// Order matters: Clover and Cobertura share the <coverage> root, so the
// more specific Clover check runs first.
var sniffers = []sniffer{
	{application.FormatGo, isGoProfile},
	{application.FormatClover, isClover},
	{application.FormatCobertura, isCobertura},
	{application.FormatLCOV, isLCOV},
}

// nameHints maps well-known report file names to their format.
var nameHints = map[string]application.Format{
	"coverage.out":  application.FormatGo,
	"cover.out":     application.FormatGo,
	"lcov.info":     application.FormatLCOV,
	"coverage.info": application.FormatLCOV,
	"clover.xml":    application.FormatClover,
	"cobertura.xml": application.FormatCobertura,
	"coverage.xml":  application.FormatCobertura,
}

type Detector struct{}

func New() *Detector {
	return &Detector{}
}

// DetectFormat returns FormatAuto when neither the content nor the name
// is recognised.
func (d *Detector) DetectFormat(name string, content []byte) application.Format {
	head := bytes.TrimSpace(content[:min(len(content), sniffSize)])
	for _, s := range sniffers {
		if s.match(head) {
			return s.format
		}
	}
	return fromName(name)
}

func fromName(name string) application.Format {
	if format, ok := nameHints[strings.ToLower(filepath.Base(name))]; ok {
		return format
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".out":
		return application.FormatGo
	case ".info":
		return application.FormatLCOV
	}
	return application.FormatAuto
}

func isGoProfile(head []byte) bool {
	return bytes.HasPrefix(head, []byte("mode:"))
}

func isXML(head []byte) bool {
	return bytes.HasPrefix(head, []byte("<"))
}

func isClover(head []byte) bool {
	return isXML(head) && bytes.Contains(head, []byte("<coverage")) &&
		(bytes.Contains(head, []byte("<project")) || bytes.Contains(head, []byte("clover=")))
}

func isCobertura(head []byte) bool {
	return isXML(head) && (bytes.Contains(head, []byte("<coverage")) || bytes.Contains(head, []byte("cobertura")))
}

// isLCOV needs both a source file record and a line record.
func isLCOV(head []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(head))
	var hasSF, hasDA bool
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		hasSF = hasSF || strings.HasPrefix(line, "SF:")
		hasDA = hasDA || strings.HasPrefix(line, "DA:")
		if hasSF && hasDA {
			return true
		}
	}
	return false
}
