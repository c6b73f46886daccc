// Package vault implements the file-backed knowledge store: record
// serialization, the directory layout, and per-path locking. The queue
// package builds the priority/staged queues on top of the primitives here;
// the Facade in facade.go is the typed API for notes, threads, memory and
// usage, and package facade composes it with the queues and the change bus.
package vault

import (
	"bufio"
	"strconv"
	"strings"
)

// Record is a parsed vault text record: an ordered header block followed
// by a blank line and a free-form body.
type Record struct {
	Header map[string]string
	Body   string
}

// reservedKeys mirrors the header vocabulary named in the vault layout.
var reservedKeys = map[string]bool{
	"jobId": true, "taskId": true, "type": true, "status": true,
	"priority": true, "securityProfile": true, "modelOverride": true,
	"thinkingLevel": true, "workerId": true, "threadId": true,
	"claimedBy": true, "claimedAt": true, "createdAt": true,
	"updatedAt": true, "version": true, "dependsOn": true,
	"targetHarnessType": true, "lastModifiedBy": true,
}

// ParseRecord splits raw into a header block and body. Malformed header
// lines (no ":" separator) are skipped rather than failing the parse, per
// the vault's "corrupt frontmatter is skipped" contract — the caller
// decides whether a resulting empty header means "not a record".
func ParseRecord(raw string) *Record {
	r := &Record{Header: map[string]string{}}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var body strings.Builder
	inBody := false
	for scanner.Scan() {
		line := scanner.Text()
		if inBody {
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}
		if strings.TrimSpace(line) == "" {
			inBody = true
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue // malformed header line: skip, keep scanning
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		r.Header[key] = val
	}
	r.Body = strings.TrimSuffix(body.String(), "\n")
	return r
}

// Encode renders a record back to its on-disk text form. Header keys are
// written in the order given so callers control reserved-key ordering.
func Encode(order []string, header map[string]string, body string) string {
	var b strings.Builder
	for _, k := range order {
		v, ok := header[k]
		if !ok {
			continue
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(body)
	return b.String()
}

// DefaultHeaderOrder is the canonical header-line order used when a more
// specific order isn't supplied by the caller.
var DefaultHeaderOrder = []string{
	"jobId", "taskId", "type", "status", "priority", "securityProfile",
	"modelOverride", "thinkingLevel", "workerId", "threadId", "claimedBy",
	"claimedAt", "createdAt", "updatedAt", "version", "dependsOn",
	"targetHarnessType", "lastModifiedBy",
}

// NextVersion returns the version header's next value: 1 for a missing or
// unparseable header (record being created), current+1 otherwise. Every
// Facade write path uses this instead of hand-rolling its own
// strconv.Atoi/increment, so "version" always means "write count" the same
// way across notes, threads, memory, and approval records.
func NextVersion(header map[string]string) int {
	v, _ := strconv.Atoi(header["version"])
	return v + 1
}
