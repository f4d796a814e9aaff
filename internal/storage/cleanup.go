package storage

import "fmt"

// DeleteOlderThan deletes command events recorded before the given unix
// epoch. Returns the number of deleted rows.
func (d *DB) DeleteOlderThan(before int64) (int64, error) {
	res, err := d.db.Exec("DELETE FROM command_events WHERE timestamp < ?", before)
	if err != nil {
		return 0, fmt.Errorf("delete from command_events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
