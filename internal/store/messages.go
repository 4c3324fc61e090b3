package store

import (
	"cmp"
	"context"
	"database/sql"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"

	"github.com/Chase-Garrett/sealedchat/internal/protocol"
)

var (
	// ErrNotFound indicates a requested message does not exist.
	ErrNotFound = errors.New("message not found")
	// ErrNotOwner indicates the requester did not send the message.
	ErrNotOwner = errors.New("not the sender of this message")
)

const messageColumns = `seq, id, sender, receiver, encrypted_aes_key, encrypted_message, iv, timestamp`

// Messages is the conversation store.
type Messages struct {
	db  *DB
	now func() time.Time
}

// NewMessages creates a message store on db.
func NewMessages(db *DB) *Messages {
	return &Messages{db: db, now: time.Now}
}

// Save inserts msg, assigning an id and timestamp when they are empty, and
// returns the stored row.
func (m *Messages) Save(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	msg.Timestamp = msg.Timestamp.UTC()

	res, err := m.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender, receiver, encrypted_aes_key, encrypted_message, iv, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.Sender,
		msg.Receiver,
		msg.EncryptedAesKey,
		msg.EncryptedMessage,
		msg.IV,
		msg.Timestamp.UnixNano(),
	)
	if err != nil {
		return protocol.Message{}, errors.Wrapf(err, "insert message %q", msg.ID)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return protocol.Message{}, errors.Wrapf(err, "read sequence of message %q", msg.ID)
	}
	msg.Seq = seq
	return msg, nil
}

// Get fetches one message by id.
func (m *Messages) Get(ctx context.Context, id string) (protocol.Message, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.Message{}, ErrNotFound
		}
		return protocol.Message{}, errors.Wrapf(err, "get message %q", id)
	}
	return msg, nil
}

// Conversation returns every message exchanged between a and b, in both
// directions, ordered by timestamp and then insertion sequence.
func (m *Messages) Conversation(ctx context.Context, a, b string) ([]protocol.Message, error) {
	var aToB, bToA []protocol.Message

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		aToB, err = m.between(ctx, a, b)
		return err
	})
	if a != b {
		p.Go(func(ctx context.Context) error {
			var err error
			bToA, err = m.between(ctx, b, a)
			return err
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	all := make([]protocol.Message, 0, len(aToB)+len(bToA))
	all = append(all, aToB...)
	all = append(all, bToA...)
	sortMessages(all)
	return all, nil
}

func (m *Messages) between(ctx context.Context, sender, receiver string) ([]protocol.Message, error) {
	msgs, err := m.query(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE sender = ? AND receiver = ?
		ORDER BY timestamp ASC, seq ASC`,
		sender, receiver,
	)
	return msgs, errors.Wrapf(err, "query messages %s -> %s", sender, receiver)
}

// Inbox returns messages received by user, oldest first.
func (m *Messages) Inbox(ctx context.Context, user string) ([]protocol.Message, error) {
	msgs, err := m.query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE receiver = ? ORDER BY timestamp ASC, seq ASC`,
		user,
	)
	return msgs, errors.Wrapf(err, "query inbox of %s", user)
}

// Sent returns messages sent by user, oldest first.
func (m *Messages) Sent(ctx context.Context, user string) ([]protocol.Message, error) {
	msgs, err := m.query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE sender = ? ORDER BY timestamp ASC, seq ASC`,
		user,
	)
	return msgs, errors.Wrapf(err, "query messages sent by %s", user)
}

// DeleteByID removes a message if requester sent it.
func (m *Messages) DeleteByID(ctx context.Context, id, requester string) error {
	msg, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if msg.Sender != requester {
		return ErrNotOwner
	}

	res, err := m.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND sender = ?`, id, requester)
	if err != nil {
		return errors.Wrapf(err, "delete message %q", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "read rows affected for delete %q", id)
	}
	if n == 0 {
		// deleted concurrently
		return ErrNotFound
	}
	return nil
}

func (m *Messages) query(ctx context.Context, query string, args ...any) ([]protocol.Message, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]protocol.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan message row")
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate message rows")
	}
	return msgs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (protocol.Message, error) {
	var (
		msg protocol.Message
		ts  int64
	)
	err := row.Scan(
		&msg.Seq,
		&msg.ID,
		&msg.Sender,
		&msg.Receiver,
		&msg.EncryptedAesKey,
		&msg.EncryptedMessage,
		&msg.IV,
		&ts,
	)
	if err != nil {
		return protocol.Message{}, err
	}
	msg.Timestamp = time.Unix(0, ts).UTC()
	return msg, nil
}

// sortMessages orders by timestamp, breaking ties by insertion sequence.
func sortMessages(msgs []protocol.Message) {
	slices.SortFunc(msgs, func(x, y protocol.Message) int {
		if c := x.Timestamp.Compare(y.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(x.Seq, y.Seq)
	})
}
