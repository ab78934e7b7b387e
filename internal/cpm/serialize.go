package cpm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/dkgv/cpm/internal/cpmerr"
	"github.com/dkgv/cpm/internal/dense"
)

const modelVersion = 2

// Serialize writes the model in the line-oriented text format described in
// spec §6.2: dataset metadata, CPM parameters, assignment counts, and
// finally the dense weight bank with scales already folded into the
// weights.
func (c *Core) Serialize(w io.Writer) error {
	bw := bufio.NewWriter(w)

	costRatio := float32(0)
	if c.costPos != 0 {
		costRatio = c.costNeg / c.costPos
	}

	active := 0
	for _, count := range c.occupancy {
		if count > 0 {
			active++
		}
	}

	fmt.Fprintf(bw, "version: %d\n\n", modelVersion)
	fmt.Fprintf(bw, "### DATASET ###\n")
	fmt.Fprintf(bw, "outer label: %d\n", c.outerLabel)
	fmt.Fprintf(bw, "outer instances: %d\n", len(c.assignments))
	fmt.Fprintf(bw, "dimensions: %d\n\n", c.d)

	fmt.Fprintf(bw, "### CPM PARAMETERS ###\n")
	fmt.Fprintf(bw, "hyperplanes: %d\n", c.k)
	fmt.Fprintf(bw, "iterations: %d\n", c.iter-1) // iter-1, wraps to the largest uint64 if iter==0
	fmt.Fprintf(bw, "lambda: %s\n", formatFloat(c.lambda))
	fmt.Fprintf(bw, "entropy: %s\n", formatFloat(c.entropy))
	fmt.Fprintf(bw, "cost ratio: %s\n", formatFloat(costRatio))
	fmt.Fprintf(bw, "seed: %d\n\n", c.seed)

	fmt.Fprintf(bw, "### ASSIGNMENTS COUNTS ###\n")
	fmt.Fprintf(bw, "active classifiers: %d\n", active)
	fmt.Fprintf(bw, "counts:")
	for _, count := range c.occupancy {
		fmt.Fprintf(bw, " %d", count)
	}
	fmt.Fprintf(bw, "\n\n")

	fmt.Fprintf(bw, "### MODEL ###\n")
	fmt.Fprintf(bw, "encoding: dense\n")
	weights, intercepts := c.w.ExportRows()
	for i, v := range weights {
		if i > 0 {
			bw.WriteByte(' ')
		}
		bw.WriteString(formatFloat(v))
	}
	bw.WriteByte('\n')
	for i, v := range intercepts {
		if i > 0 {
			bw.WriteByte(' ')
		}
		bw.WriteString(formatFloat(v))
	}
	bw.WriteByte('\n')

	return bw.Flush()
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', 6, 32)
}

// header holds the parsed text-format metadata, before the MODEL section is
// read.
type header struct {
	outerLabel  int
	numPos      int
	dimensions  int
	hyperplanes int
	iterations  uint64
	lambda      float32
	entropy     float32
	costRatio   float32
	seed        uint64
	active      int
	counts      []int
}

// Deserialize reconstructs a Core from the text format written by Serialize.
//
// It preserves the source's deserialization quirk verbatim: the
// reconstructed core's K is set to the saved "active classifiers" count (or
// 1 when that count is 0), not the saved "hyperplanes" count, and the MODEL section read below populates
// only active*D weights and active intercepts, leaving the remainder of the
// saved hyperplanes*D weights/intercepts in the stream unread. See
// DESIGN.md.
func Deserialize(r io.Reader) (*Core, error) {
	// A single bufio.Reader backs both the line-oriented header scan and the
	// word-oriented weight scan below: a bufio.Scanner reads ahead into its
	// own internal buffer, so two independent bufio.Scanners wrapped
	// directly around r would race over which one owns the bytes already
	// buffered by the other.
	br := bufio.NewReaderSize(r, 64*1024)

	readLine := func() (string, bool) {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return "", false
		}
		return strings.TrimRight(line, "\r\n"), true
	}

	valueAfterColon := func(line string) (string, error) {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return "", errors.Wrapf(cpmerr.ErrCorruptModel, "expected ':' in line %q", line)
		}
		return strings.TrimSpace(line[idx+1:]), nil
	}

	h := header{}

	line, ok := readLine()
	if !ok {
		return nil, errors.Wrap(cpmerr.ErrCorruptModel, "empty model stream")
	}
	verStr, err := valueAfterColon(line)
	if err != nil {
		return nil, err
	}
	ver, err := strconv.Atoi(strings.TrimSpace(verStr))
	if err != nil || ver != modelVersion {
		return nil, errors.Wrapf(cpmerr.ErrCorruptModel, "unsupported version %q", verStr)
	}

	// Scan remaining header lines up to and including "### MODEL ###" /
	// "encoding: dense", tolerating blank lines and section markers.
	for {
		line, ok = readLine()
		if !ok {
			return nil, errors.Wrap(cpmerr.ErrCorruptModel, "unexpected end of stream reading header")
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "###") {
			continue
		}
		if strings.HasPrefix(trimmed, "encoding:") {
			break
		}
		val, err := valueAfterColon(trimmed)
		if err != nil {
			return nil, err
		}
		key := strings.TrimSpace(trimmed[:strings.IndexByte(trimmed, ':')])
		switch key {
		case "outer label":
			h.outerLabel, err = strconv.Atoi(val)
		case "outer instances":
			var n int
			n, err = strconv.Atoi(val)
			h.numPos = n
		case "dimensions":
			h.dimensions, err = strconv.Atoi(val)
		case "hyperplanes":
			h.hyperplanes, err = strconv.Atoi(val)
		case "iterations":
			h.iterations, err = strconv.ParseUint(val, 10, 64)
		case "lambda":
			err = parseFloat32Into(val, &h.lambda)
		case "entropy":
			err = parseFloat32Into(val, &h.entropy)
		case "cost ratio":
			err = parseFloat32Into(val, &h.costRatio)
		case "seed":
			h.seed, err = strconv.ParseUint(val, 10, 64)
		case "active classifiers":
			h.active, err = strconv.Atoi(val)
		case "counts":
			fields := strings.Fields(val)
			h.counts = make([]int, len(fields))
			for i, f := range fields {
				h.counts[i], err = strconv.Atoi(f)
				if err != nil {
					break
				}
			}
		}
		if err != nil {
			return nil, errors.Wrapf(cpmerr.ErrCorruptModel, "parsing %q: %v", trimmed, err)
		}
	}

	// The deserialization quirk: rebuild with K := active.
	k := h.active
	if k < 1 {
		k = 1
	}
	d := h.dimensions

	tokens := bufio.NewScanner(br)
	tokens.Buffer(make([]byte, 0, 64*1024), 256*1024*1024)
	tokens.Split(bufio.ScanWords)

	nextToken := func() (string, bool) {
		if tokens.Scan() {
			return tokens.Text(), true
		}
		return "", false
	}

	weights := make([]float32, h.active*d)
	for i := range weights {
		tok, ok := nextToken()
		if !ok {
			return nil, errors.Wrap(cpmerr.ErrCorruptModel, "truncated weights section")
		}
		if err := parseFloat32Into(tok, &weights[i]); err != nil {
			return nil, errors.Wrapf(cpmerr.ErrCorruptModel, "bad weight %q: %v", tok, err)
		}
	}
	intercepts := make([]float32, h.active)
	for i := range intercepts {
		tok, ok := nextToken()
		if !ok {
			return nil, errors.Wrap(cpmerr.ErrCorruptModel, "truncated intercepts section")
		}
		if err := parseFloat32Into(tok, &intercepts[i]); err != nil {
			return nil, errors.Wrapf(cpmerr.ErrCorruptModel, "bad intercept %q: %v", tok, err)
		}
	}

	costPos := float32(1)
	costNeg := h.costRatio
	if 1+h.costRatio != 0 {
		costNeg = h.costRatio / (1 + h.costRatio)
		costPos = 1 / (1 + h.costRatio)
	}

	assignments := make([]int32, h.numPos)
	for i := range assignments {
		assignments[i] = -1
	}

	core := &Core{
		outerLabel:  h.outerLabel,
		k:           k,
		d:           d,
		lambda:      h.lambda,
		entropy:     h.entropy,
		costNeg:     costNeg,
		costPos:     costPos,
		seed:        h.seed,
		w:           dense.ImportRows(k, d, weights, intercepts),
		score:       make([]float32, k),
		assignments: assignments,
		occupancy:   make([]int, k),
		occScratch:  make([]int, k),
		iter:        h.iterations + 1,
	}
	return core, nil
}

func parseFloat32Into(s string, dst *float32) error {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return err
	}
	*dst = float32(v)
	return nil
}
