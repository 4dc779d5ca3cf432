package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// AddSummary archives a context summary with its embedding. The vector
// is stored as little-endian float32 so it survives driver changes.
func (s *SQLiteStore) AddSummary(summary *Summary, embedding []float32) error {
	vecBuf := new(bytes.Buffer)
	if err := binary.Write(vecBuf, binary.LittleEndian, embedding); err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}

	query := `INSERT INTO summaries (id, session_id, content, embedding, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, summary.ID, summary.SessionID, summary.Content, vecBuf.Bytes(), summary.CreatedAt)
	return err
}

// SearchSummaries ranks archived summaries by cosine similarity.
// Naive implementation: load all, compute, sort. Fine for a personal
// archive (<10k summaries).
func (s *SQLiteStore) SearchSummaries(queryVector []float32, limit int) ([]Summary, error) {
	rows, err := s.db.Query(`SELECT id, session_id, content, embedding, created_at FROM summaries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []Summary
	for rows.Next() {
		var item Summary
		var vecBlob []byte
		if err := rows.Scan(&item.ID, &item.SessionID, &item.Content, &vecBlob, &item.CreatedAt); err != nil {
			continue
		}

		vector := make([]float32, len(vecBlob)/4)
		if err := binary.Read(bytes.NewReader(vecBlob), binary.LittleEndian, &vector); err != nil {
			continue
		}

		item.Similarity = cosineSimilarity(queryVector, vector)
		scored = append(scored, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Sort desc
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, magA, magB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0.0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}
