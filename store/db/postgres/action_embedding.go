package postgres

import (
	"context"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/openassist/actionflow/store"
)

// UpsertActionEmbedding inserts or updates an action embedding.
func (d *DB) UpsertActionEmbedding(ctx context.Context, embedding *store.ActionEmbedding) error {
	stmt := `
		INSERT INTO action_embedding (action_id, model, embedding, updated_ts)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (action_id, model)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_ts = EXCLUDED.updated_ts
	`
	vector := pgvector.NewVector(embedding.Embedding)
	_, err := d.db.ExecContext(ctx, stmt,
		embedding.ActionID,
		embedding.Model,
		vector,
		embedding.UpdatedTs,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert action embedding")
	}
	return nil
}

// SearchActionEmbeddings performs vector similarity search using pgvector.
func (d *DB) SearchActionEmbeddings(ctx context.Context, queryVector []float32, model string, limit int) ([]*store.ActionDistance, error) {
	if limit <= 0 {
		limit = 10
	}

	// The <=> operator computes cosine distance (1 - cosine_similarity),
	// so we order by distance ASC to get most similar first.
	query := `
		SELECT action_id, embedding <=> ` + placeholder(1) + ` AS distance
		FROM action_embedding
		WHERE model = ` + placeholder(2) + `
		ORDER BY embedding <=> ` + placeholder(3) + `
		LIMIT ` + placeholder(4)

	vector := pgvector.NewVector(queryVector)
	rows, err := d.db.QueryContext(ctx, query, vector, model, vector, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search action embeddings")
	}
	defer rows.Close()

	results := []*store.ActionDistance{}
	for rows.Next() {
		var result store.ActionDistance
		if err := rows.Scan(&result.ActionID, &result.Distance); err != nil {
			return nil, errors.Wrap(err, "failed to scan action distance")
		}
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate action distances")
	}
	return results, nil
}
