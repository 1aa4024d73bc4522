package stream

import (
	"sort"
	"strings"
)

// Decoder accumulates a sequence of chunks into text and tool-call state.
// One decoder serves exactly one request; create a fresh decoder per stream.
type Decoder struct {
	content      strings.Builder
	calls        map[int]*callBuffer
	finishReason string

	// start/delta encoding state: index of the most recently opened call
	// and the next index to allocate.
	activeStart int
	nextIndex   int
}

type callBuffer struct {
	id   string
	name string
	args strings.Builder
}

// Delta is the incremental view returned by Process, for live UI updates.
type Delta struct {
	Content      string // content fragment added by this chunk
	ToolActivity bool   // true if this chunk touched tool-call state
}

// Result is the final accumulated view of a completed stream.
type Result struct {
	Content      string
	ToolCalls    []ToolCall // nil when no tool call was ever opened
	FinishReason string
}

// NewDecoder returns a decoder with fresh state.
func NewDecoder() *Decoder {
	return &Decoder{
		calls:       make(map[int]*callBuffer),
		activeStart: -1,
	}
}

// Process folds one chunk into the accumulated state and returns the
// incremental delta. Chunks must be processed in arrival order.
func (d *Decoder) Process(c Chunk) Delta {
	var delta Delta

	if c.Content != "" {
		d.content.WriteString(c.Content)
		delta.Content = c.Content
	}

	for _, tc := range c.ToolCalls {
		buf := d.call(tc.Index)
		if tc.ID != "" && buf.id == "" {
			buf.id = tc.ID
		}
		d.mergeName(buf, tc.Function.Name)
		buf.args.WriteString(tc.Function.Arguments)
		delta.ToolActivity = true
	}

	if c.ToolCallStart != nil {
		idx := d.nextIndex
		buf := d.call(idx)
		buf.id = c.ToolCallStart.ID
		d.mergeName(buf, c.ToolCallStart.Name)
		d.activeStart = idx
		delta.ToolActivity = true
	}
	if c.ToolInputDelta != "" && d.activeStart >= 0 {
		d.calls[d.activeStart].args.WriteString(c.ToolInputDelta)
		delta.ToolActivity = true
	}

	// A later null finish_reason never erases an earlier one.
	if c.FinishReason != "" {
		d.finishReason = c.FinishReason
	}

	return delta
}

// Content returns the text accumulated so far.
func (d *Decoder) Content() string {
	return d.content.String()
}

// HasToolCalls reports whether any tool-call entry has been opened.
func (d *Decoder) HasToolCalls() bool {
	return len(d.calls) > 0
}

// Result returns the final accumulated view. ToolCalls is nil, never an
// empty slice, when no tool-call index was populated. Argument text is
// returned as-is; JSON validity is the consumer's concern.
func (d *Decoder) Result() Result {
	res := Result{
		Content:      d.content.String(),
		FinishReason: d.finishReason,
	}
	if len(d.calls) == 0 {
		return res
	}

	indices := make([]int, 0, len(d.calls))
	for idx := range d.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	res.ToolCalls = make([]ToolCall, 0, len(indices))
	for _, idx := range indices {
		buf := d.calls[idx]
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:        buf.id,
			Name:      buf.name,
			Arguments: buf.args.String(),
		})
	}
	return res
}

// call returns the buffer at idx, allocating it if absent.
func (d *Decoder) call(idx int) *callBuffer {
	if buf, ok := d.calls[idx]; ok {
		return buf
	}
	buf := &callBuffer{}
	d.calls[idx] = buf
	if idx >= d.nextIndex {
		d.nextIndex = idx + 1
	}
	return buf
}

// mergeName applies the non-destructive name merge rule: accept a candidate
// only when no name is stored yet, or when the candidate differs from the
// stored name and is at least as long. Some providers resend the function
// name across chunks, occasionally truncated; this keeps the fullest one.
func (d *Decoder) mergeName(buf *callBuffer, candidate string) {
	if candidate == "" {
		return
	}
	if buf.name == "" {
		buf.name = candidate
		return
	}
	if candidate != buf.name && len(candidate) >= len(buf.name) {
		buf.name = candidate
	}
}
