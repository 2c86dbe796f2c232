package storage

import (
	"database/sql"
	"fmt"

	"droproom/internal/room"
)

// messageRow is the column form of a message body. File columns are NULL
// for text rows.
type messageRow struct {
	kind         string
	content      string
	originalName sql.NullString
	mimeType     sql.NullString
	size         sql.NullInt64
}

func toRow(msg room.Message) messageRow {
	switch body := msg.Body.(type) {
	case room.File:
		return messageRow{
			kind:         string(room.KindFile),
			content:      body.Locator,
			originalName: sql.NullString{String: body.OriginalName, Valid: true},
			mimeType:     sql.NullString{String: body.MimeType, Valid: true},
			size:         sql.NullInt64{Int64: int64(body.Size), Valid: true},
		}
	case room.Text:
		return messageRow{kind: string(room.KindText), content: body.Content}
	}
	return messageRow{}
}

func (r messageRow) body() (room.Body, error) {
	switch room.Kind(r.kind) {
	case room.KindText:
		return room.Text{Content: r.content}, nil
	case room.KindFile:
		return room.File{
			Locator:      r.content,
			OriginalName: r.originalName.String,
			MimeType:     r.mimeType.String,
			Size:         uint64(r.size.Int64),
		}, nil
	}
	return nil, fmt.Errorf("unknown message kind %q", r.kind)
}
