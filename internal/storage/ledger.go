package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ssd-technologies/keyledger/internal/registry"
)

var _ registry.Ledger = (*DB)(nil)

// Commit writes every part of b in one transaction.
func (d *DB) Commit(ctx context.Context, b *registry.Batch) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if err := putParams(ctx, tx, b); err != nil {
			return err
		}
		if b.File != nil {
			if err := insertFile(ctx, tx, b.File); err != nil {
				return err
			}
		}
		for _, g := range b.Grants {
			if err := insertGrant(ctx, tx, g); err != nil {
				return err
			}
		}
		if b.Payout != nil {
			if err := insertPayout(ctx, tx, b.Payout); err != nil {
				return err
			}
		}
		for _, ev := range b.Events {
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load reads the complete ledger state.
func (d *DB) Load(ctx context.Context) (*registry.State, error) {
	st := &registry.State{}
	if err := d.loadParams(ctx, st); err != nil {
		return nil, err
	}
	if err := d.loadFiles(ctx, st); err != nil {
		return nil, err
	}
	if err := d.loadGrants(ctx, st); err != nil {
		return nil, err
	}
	if err := d.loadPayouts(ctx, st); err != nil {
		return nil, err
	}
	if err := d.loadEvents(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// --- Params ---

func putParams(ctx context.Context, tx *sql.Tx, b *registry.Batch) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO params (id, owner, base_fee, bytes_fee_multiplier, grant_fee, balance, total_access, sequence)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner = excluded.owner,
		   base_fee = excluded.base_fee,
		   bytes_fee_multiplier = excluded.bytes_fee_multiplier,
		   grant_fee = excluded.grant_fee,
		   balance = excluded.balance,
		   total_access = excluded.total_access,
		   sequence = excluded.sequence`,
		string(b.Config.Owner), u2i(b.Config.BaseFee), u2i(b.Config.BytesFeeMultiplier), u2i(b.Config.GrantFee),
		u2i(b.Balance), u2i(b.TotalAccess), u2i(b.Sequence),
	)
	if err != nil {
		return fmt.Errorf("put params: %w", err)
	}
	return nil
}

func (d *DB) loadParams(ctx context.Context, st *registry.State) error {
	var owner string
	var base, mult, grant, balance, total, seq int64
	err := d.db.QueryRowContext(ctx,
		`SELECT owner, base_fee, bytes_fee_multiplier, grant_fee, balance, total_access, sequence
		 FROM params WHERE id = 1`,
	).Scan(&owner, &base, &mult, &grant, &balance, &total, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	st.Config = registry.AdminConfig{
		Owner:              registry.Identity(owner),
		BaseFee:            i2u(base),
		BytesFeeMultiplier: i2u(mult),
		GrantFee:           i2u(grant),
	}
	st.Balance = i2u(balance)
	st.TotalAccess = i2u(total)
	st.Sequence = i2u(seq)
	return nil
}

// --- Files ---

func insertFile(ctx context.Context, tx *sql.Tx, f *registry.File) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO files (idx, ciphertext, encrypted_name, encrypted_folder, encrypted_kind, iv, digest, created_at, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u2i(f.Index), nonNil(f.Ciphertext), nonNil(f.EncryptedName), nonNil(f.EncryptedFolder),
		nonNil(f.EncryptedKind), nonNil(f.IV), f.Digest[:], f.CreatedAt, u2i(f.Sequence),
	)
	if err != nil {
		return fmt.Errorf("insert file %d: %w", f.Index, err)
	}
	return nil
}

func (d *DB) loadFiles(ctx context.Context, st *registry.State) error {
	rows, err := d.db.QueryContext(ctx,
		`SELECT idx, ciphertext, encrypted_name, encrypted_folder, encrypted_kind, iv, digest, created_at, sequence
		 FROM files ORDER BY idx`,
	)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f registry.File
		var idx, seq int64
		var digest []byte
		if err := rows.Scan(&idx, &f.Ciphertext, &f.EncryptedName, &f.EncryptedFolder, &f.EncryptedKind,
			&f.IV, &digest, &f.CreatedAt, &seq); err != nil {
			return fmt.Errorf("scan file: %w", err)
		}
		f.Index = i2u(idx)
		f.Sequence = i2u(seq)
		copy(f.Digest[:], digest)
		if f.Index != uint64(len(st.Files)) {
			return fmt.Errorf("file index gap: got %d, want %d", f.Index, len(st.Files))
		}
		st.Files = append(st.Files, &f)
	}
	return rows.Err()
}

// --- Access keys ---

func insertGrant(ctx context.Context, tx *sql.Tx, g registry.Grant) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO access_keys (grantee, grantor, file_idx, wrapped_key, sequence)
		 VALUES (?, ?, ?, ?, ?)`,
		string(g.Grantee), string(g.Grantor), u2i(g.FileIndex), nonNil(g.WrappedKey), u2i(g.Sequence),
	)
	if err != nil {
		return fmt.Errorf("insert access key: %w", err)
	}
	return nil
}

func (d *DB) loadGrants(ctx context.Context, st *registry.State) error {
	rows, err := d.db.QueryContext(ctx,
		`SELECT grantee, grantor, file_idx, wrapped_key, sequence FROM access_keys ORDER BY ordinal`,
	)
	if err != nil {
		return fmt.Errorf("list access keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g registry.Grant
		var grantee, grantor string
		var fileIdx, seq int64
		if err := rows.Scan(&grantee, &grantor, &fileIdx, &g.WrappedKey, &seq); err != nil {
			return fmt.Errorf("scan access key: %w", err)
		}
		g.Grantee = registry.Identity(grantee)
		g.Grantor = registry.Identity(grantor)
		g.FileIndex = i2u(fileIdx)
		g.Sequence = i2u(seq)
		st.Grants = append(st.Grants, g)
	}
	return rows.Err()
}

// --- Payouts ---

func insertPayout(ctx context.Context, tx *sql.Tx, p *registry.Payout) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payouts (recipient, amount, sequence, paid_at) VALUES (?, ?, ?, ?)`,
		string(p.Recipient), u2i(p.Amount), u2i(p.Sequence), p.Time,
	)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (d *DB) loadPayouts(ctx context.Context, st *registry.State) error {
	rows, err := d.db.QueryContext(ctx,
		`SELECT recipient, amount, sequence, paid_at FROM payouts ORDER BY id`,
	)
	if err != nil {
		return fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p registry.Payout
		var recipient string
		var amount, seq int64
		if err := rows.Scan(&recipient, &amount, &seq, &p.Time); err != nil {
			return fmt.Errorf("scan payout: %w", err)
		}
		p.Recipient = registry.Identity(recipient)
		p.Amount = i2u(amount)
		p.Sequence = i2u(seq)
		st.Payouts = append(st.Payouts, p)
	}
	return rows.Err()
}

// --- Events ---

func insertEvent(ctx context.Context, tx *sql.Tx, ev registry.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (idx, event_id, kind, sequence, body) VALUES (?, ?, ?, ?, ?)`,
		u2i(ev.Index), ev.ID, string(ev.Kind), u2i(ev.Sequence), string(body),
	)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", ev.Index, err)
	}
	return nil
}

func (d *DB) loadEvents(ctx context.Context, st *registry.State) error {
	rows, err := d.db.QueryContext(ctx, `SELECT body FROM events ORDER BY idx`)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		var ev registry.Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		st.Events = append(st.Events, ev)
	}
	return rows.Err()
}
