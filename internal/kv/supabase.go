package kv

import (
	"context"
	"encoding/base64"
	"fmt"

	supabase "github.com/supabase-community/supabase-go"
)

// Supabase stores envelopes in a Supabase table with columns k (text,
// primary key) and v (text, base64). The service key must allow writes.
type Supabase struct {
	client *supabase.Client
	table  string
}

type supabaseRow struct {
	K string `json:"k"`
	V string `json:"v"`
}

func NewSupabase(url, serviceKey, table string) (*Supabase, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("supabase url and service key must be set")
	}
	if table == "" {
		table = "encrypted_kv"
	}

	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Supabase{client: client, table: table}, nil
}

func (s *Supabase) Put(_ context.Context, key string, value []byte) error {
	row := supabaseRow{K: key, V: base64.StdEncoding.EncodeToString(value)}
	_, _, err := s.client.From(s.table).Upsert(row, "k", "", "").Execute()
	if err != nil {
		return fmt.Errorf("supabase upsert: %w", err)
	}
	return nil
}

func (s *Supabase) Get(_ context.Context, key string) ([]byte, error) {
	var rows []supabaseRow
	_, err := s.client.From(s.table).
		Select("*", "", false).
		Eq("k", key).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase select: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrKeyNotFound
	}
	return base64.StdEncoding.DecodeString(rows[0].V)
}

func (s *Supabase) Delete(_ context.Context, key string) error {
	_, _, err := s.client.From(s.table).Delete("", "").Eq("k", key).Execute()
	if err != nil {
		return fmt.Errorf("supabase delete: %w", err)
	}
	return nil
}

func (s *Supabase) Ping(_ context.Context) error {
	var rows []supabaseRow
	_, err := s.client.From(s.table).Select("k", "", false).Limit(1, "").ExecuteTo(&rows)
	return err
}

func (s *Supabase) Close() error { return nil }
