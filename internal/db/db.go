// Package db provides database utilities and connection handling for Scoutly.
package db

// PgvectorRequirement documents that the application requires PostgreSQL with
// the pgvector extension. pgvector stores experience record embeddings and
// powers the cosine-similarity retrieval path.
const PgvectorRequirement = "pgvector extension is required for embedding retrieval"

// VersionQuery is the SQL query to verify pgvector is available.
const VersionQuery = "SELECT extversion FROM pg_extension WHERE extname = 'vector'"
