package rundown

import "time"

// SegmentStatus tracks a segment through the newsroom workflow.
type SegmentStatus string

const (
	StatusDraft    SegmentStatus = "rascunho"
	StatusReady    SegmentStatus = "pronta"
	StatusApproved SegmentStatus = "aprovada"
	StatusAired    SegmentStatus = "exibida"
)

// Journal is one broadcast program's editable rundown. Open mirrors the
// persisted espelho_aberto flag; a closed journal rejects reorder operations.
type Journal struct {
	ID       string `json:"id"`
	Name     string `json:"nome"`
	Schedule string `json:"horario"`
	Open     bool   `json:"espelho_aberto"`
}

// Block is an ordered section within a journal. Reordering recomputes Order
// values only, never identity.
type Block struct {
	ID        string  `json:"id"`
	JournalID string  `json:"id_telejornal"`
	Name      string  `json:"nome"`
	Order     float64 `json:"ordem"`
}

// Segment is one story within a block. Order is the fractional sort key
// (ordem); it may be fractional between normalizations. Page is the per-journal
// page number, kept as a string because legacy rundowns carry unnumbered pages.
type Segment struct {
	ID          string        `json:"id"`
	BlockID     string        `json:"id_bloco"`
	Order       float64       `json:"ordem"`
	Page        string        `json:"pagina"`
	Slug        string        `json:"retranca"`
	Script      string        `json:"texto"`
	DurationSec int           `json:"duracao"`
	Status      SegmentStatus `json:"status"`
}

// Duration returns the segment's running time.
func (s Segment) Duration() time.Duration {
	if s.DurationSec <= 0 {
		return 0
	}
	return time.Duration(s.DurationSec) * time.Second
}

// BlockWithItems is a block plus its ordered segments plus the derived total
// running time. TotalTime is recomputed whenever Items change and is never
// persisted.
type BlockWithItems struct {
	Block
	Items     []Segment
	TotalTime time.Duration
}

func (b *BlockWithItems) recomputeTotal() {
	total := time.Duration(0)
	for _, item := range b.Items {
		total += item.Duration()
	}
	b.TotalTime = total
}

// ClipboardKind distinguishes what a clipboard entry holds.
type ClipboardKind string

const (
	ClipboardSegment ClipboardKind = "materia"
	ClipboardBlock   ClipboardKind = "bloco"
)

// ClipboardEntry is a transient copy of a block or segment, tagged with its
// source journal so pastes across journals can be detected.
type ClipboardEntry struct {
	Kind              ClipboardKind
	Segment           Segment
	Block             BlockWithItems
	SourceJournalID   string
	SourceJournalName string
	CopiedAt          time.Time
}
