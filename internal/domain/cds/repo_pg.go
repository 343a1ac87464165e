package cds

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type knowledgeRepoPG struct{ db queryable }

// NewKnowledgeRepoPG returns a KnowledgeRepository backed by the
// diagnosis_knowledge and vital_range tables.
func NewKnowledgeRepoPG(pool *pgxpool.Pool) KnowledgeRepository {
	return &knowledgeRepoPG{db: pool}
}

func (r *knowledgeRepoPG) ListDiagnoses(ctx context.Context) ([]KnowledgeEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT code, name, symptoms, required_exams
		FROM diagnosis_knowledge
		WHERE active
		ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KnowledgeEntry
	for rows.Next() {
		var e KnowledgeEntry
		if err := rows.Scan(&e.Code, &e.Name, &e.Symptoms, &e.RequiredExams); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *knowledgeRepoPG) UpsertDiagnosis(ctx context.Context, e KnowledgeEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO diagnosis_knowledge (code, name, symptoms, required_exams, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			symptoms = EXCLUDED.symptoms,
			required_exams = EXCLUDED.required_exams,
			active = TRUE,
			updated_at = NOW()`,
		NormalizeCode(e.Code), e.Name, e.Symptoms, e.RequiredExams)
	return err
}

func (r *knowledgeRepoPG) ListVitalRanges(ctx context.Context) ([]VitalRangeRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT sign, bracket, min_value, max_value, critical_low, critical_high
		FROM vital_range
		ORDER BY sign, bracket`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VitalRangeRow
	for rows.Next() {
		var row VitalRangeRow
		if err := rows.Scan(&row.Sign, &row.Bracket, &row.Min, &row.Max, &row.CriticalLow, &row.CriticalHigh); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *knowledgeRepoPG) UpsertVitalRange(ctx context.Context, row VitalRangeRow) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO vital_range (sign, bracket, min_value, max_value, critical_low, critical_high)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sign, bracket) DO UPDATE SET
			min_value = EXCLUDED.min_value,
			max_value = EXCLUDED.max_value,
			critical_low = EXCLUDED.critical_low,
			critical_high = EXCLUDED.critical_high,
			updated_at = NOW()`,
		string(row.Sign), string(row.Bracket), row.Min, row.Max, row.CriticalLow, row.CriticalHigh)
	return err
}
