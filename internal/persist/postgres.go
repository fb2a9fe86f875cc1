package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/pautahq/espelho/internal/rundown"
)

const postgresOperationTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Postgres implements Store on lib/pq. The schema is created lazily on first
// use.
type Postgres struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &Postgres{dsn: dsn, openDB: sql.Open}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) ensureReady() error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		schema := `
			CREATE TABLE IF NOT EXISTS telejornais (
				id TEXT PRIMARY KEY,
				nome TEXT NOT NULL,
				horario TEXT NOT NULL DEFAULT '',
				espelho_aberto BOOLEAN NOT NULL DEFAULT FALSE
			);
			CREATE TABLE IF NOT EXISTS blocos (
				id TEXT PRIMARY KEY,
				id_telejornal TEXT NOT NULL REFERENCES telejornais(id) ON DELETE CASCADE,
				nome TEXT NOT NULL,
				ordem DOUBLE PRECISION NOT NULL DEFAULT 0
			);
			CREATE TABLE IF NOT EXISTS materias (
				id TEXT PRIMARY KEY,
				id_bloco TEXT NOT NULL REFERENCES blocos(id) ON DELETE CASCADE,
				ordem DOUBLE PRECISION NOT NULL DEFAULT 0,
				pagina TEXT NOT NULL DEFAULT '',
				retranca TEXT NOT NULL DEFAULT '',
				texto TEXT NOT NULL DEFAULT '',
				duracao INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'rascunho'
			);
			CREATE INDEX IF NOT EXISTS blocos_telejornal_idx ON blocos (id_telejornal, ordem);
			CREATE INDEX IF NOT EXISTS materias_bloco_idx ON materias (id_bloco, ordem)`
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			p.initErr = err
			return
		}
		p.db = db
	})
	return p.initErr
}

func (p *Postgres) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, postgresOperationTimeout)
}

func (p *Postgres) Journal(ctx context.Context, id string) (rundown.Journal, error) {
	if err := p.ensureReady(); err != nil {
		return rundown.Journal{}, err
	}
	ctx, cancel := p.opContext(ctx)
	defer cancel()
	var journal rundown.Journal
	err := p.db.QueryRowContext(ctx,
		`SELECT id, nome, horario, espelho_aberto FROM telejornais WHERE id = $1`, id).
		Scan(&journal.ID, &journal.Name, &journal.Schedule, &journal.Open)
	if errors.Is(err, sql.ErrNoRows) {
		return rundown.Journal{}, ErrNotFound
	}
	if err != nil {
		return rundown.Journal{}, err
	}
	return journal, nil
}

func (p *Postgres) SetJournalOpen(ctx context.Context, id string, open bool) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := p.opContext(ctx)
	defer cancel()
	return p.execExpectingRow(ctx,
		`UPDATE telejornais SET espelho_aberto = $2 WHERE id = $1`, id, open)
}

func (p *Postgres) ListBlocks(ctx context.Context, journalID string) ([]rundown.Block, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := p.opContext(ctx)
	defer cancel()
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, id_telejornal, nome, ordem FROM blocos WHERE id_telejornal = $1 ORDER BY ordem`, journalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rundown.Block
	for rows.Next() {
		var block rundown.Block
		if err := rows.Scan(&block.ID, &block.JournalID, &block.Name, &block.Order); err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateBlock(ctx context.Context, block rundown.Block) error {
	if block.ID == "" {
		return ErrInvalidInput
	}
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := p.opContext(ctx)
	defer cancel()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO blocos (id, id_telejornal, nome, ordem) VALUES ($1, $2, $3, $4)`,
		block.ID, block.JournalID, block.Name, block.Order)
	return err
}

func (p *Postgres) UpdateBlock(ctx context.Context, id string, patch BlockPatch) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	sets, args := patchClauses(map[string]any{
		"nome":  deref(patch.Name),
		"ordem": deref(patch.Order),
	})
	if len(sets) == 0 {
		return nil
	}
	ctx, cancel := p.opContext(ctx)
	defer cancel()
	query := fmt.Sprintf("UPDATE blocos SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)+1)
	return p.execExpectingRow(ctx, query, append(args, id)...)
}

func (p *Postgres) DeleteBlock(ctx context.Context, id string) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := p.opContext(ctx)
	defer cancel()
	return p.execExpectingRow(ctx, `DELETE FROM blocos WHERE id = $1`, id)
}

func (p *Postgres) ListSegments(ctx context.Context, blockID string) ([]rundown.Segment, error) {
	if err := p.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := p.opContext(ctx)
	defer cancel()
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, id_bloco, ordem, pagina, retranca, texto, duracao, status
		 FROM materias WHERE id_bloco = $1 ORDER BY ordem`, blockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rundown.Segment
	for rows.Next() {
		var seg rundown.Segment
		var status string
		if err := rows.Scan(&seg.ID, &seg.BlockID, &seg.Order, &seg.Page,
			&seg.Slug, &seg.Script, &seg.DurationSec, &status); err != nil {
			return nil, err
		}
		seg.Status = rundown.SegmentStatus(status)
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSegment(ctx context.Context, seg rundown.Segment) error {
	if seg.ID == "" || seg.BlockID == "" {
		return ErrInvalidInput
	}
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := p.opContext(ctx)
	defer cancel()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO materias (id, id_bloco, ordem, pagina, retranca, texto, duracao, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		seg.ID, seg.BlockID, seg.Order, seg.Page, seg.Slug, seg.Script, seg.DurationSec, string(seg.Status))
	return err
}

func (p *Postgres) UpdateSegment(ctx context.Context, id string, patch SegmentPatch) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	sets, args := patchClauses(map[string]any{
		"id_bloco": deref(patch.BlockID),
		"ordem":    deref(patch.Order),
		"pagina":   deref(patch.Page),
		"retranca": deref(patch.Slug),
		"texto":    deref(patch.Script),
		"duracao":  deref(patch.DurationSec),
		"status":   deref(patch.Status),
	})
	if len(sets) == 0 {
		return nil
	}
	ctx, cancel := p.opContext(ctx)
	defer cancel()
	query := fmt.Sprintf("UPDATE materias SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args)+1)
	return p.execExpectingRow(ctx, query, append(args, id)...)
}

func (p *Postgres) DeleteSegment(ctx context.Context, id string) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := p.opContext(ctx)
	defer cancel()
	return p.execExpectingRow(ctx, `DELETE FROM materias WHERE id = $1`, id)
}

func (p *Postgres) JournalForBlock(ctx context.Context, blockID string) (string, error) {
	return p.lookupOwner(ctx, `SELECT id_telejornal FROM blocos WHERE id = $1`, blockID)
}

func (p *Postgres) BlockForSegment(ctx context.Context, segID string) (string, error) {
	return p.lookupOwner(ctx, `SELECT id_bloco FROM materias WHERE id = $1`, segID)
}

func (p *Postgres) lookupOwner(ctx context.Context, query, id string) (string, error) {
	if err := p.ensureReady(); err != nil {
		return "", err
	}
	ctx, cancel := p.opContext(ctx)
	defer cancel()
	var owner string
	err := p.db.QueryRowContext(ctx, query, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

func (p *Postgres) execExpectingRow(ctx context.Context, query string, args ...any) error {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// patchClauses builds SET clauses for the non-nil members of a patch, in a
// stable column order for predictable statements.
func patchClauses(columns map[string]any) ([]string, []any) {
	order := []string{"id_bloco", "id_telejornal", "nome", "ordem", "pagina", "retranca", "texto", "duracao", "status"}
	var sets []string
	var args []any
	for _, column := range order {
		value, ok := columns[column]
		if !ok || value == nil {
			continue
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	return sets, args
}

func deref[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
