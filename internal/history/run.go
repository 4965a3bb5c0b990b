package history

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunRecord is one row of run history: a completed (or in-flight) protocol.
type RunRecord struct {
	ProtocolUUID  string
	Name          string
	ParticipantID string
	Notes         string
	TaskCount     int
	StartedAt     time.Time
	EndedAt       sql.NullTime
	DatasetPath   string
}

// RecordStart inserts a row for a protocol that just transitioned
// STANDBY->RUNNING. EndedAt is left null until RecordEnd is called.
func (s *Store) RecordStart(r RunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (protocol_uuid, name, participant_id, notes, task_count, started_at, dataset_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ProtocolUUID, r.Name, r.ParticipantID, r.Notes, r.TaskCount, r.StartedAt, r.DatasetPath,
	)
	return err
}

// RecordEnd sets ended_at for the named protocol, marking SAVING->STANDBY.
func (s *Store) RecordEnd(protocolUUID string, endedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE runs SET ended_at = ? WHERE protocol_uuid = ?`,
		endedAt, protocolUUID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Recent returns up to limit runs, most recently started first.
func (s *Store) Recent(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT protocol_uuid, name, participant_id, notes, task_count, started_at, ended_at, dataset_path
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ProtocolUUID, &r.Name, &r.ParticipantID, &r.Notes,
			&r.TaskCount, &r.StartedAt, &r.EndedAt, &r.DatasetPath); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
