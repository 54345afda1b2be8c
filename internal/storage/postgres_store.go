package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/campus-parking/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRental(r *models.Rental) error {
	_, err := p.db.Exec(`INSERT INTO rentals(id, spot_id, rental_date, owner_id, renter_id, vehicle_size, price_cents, status, escrow_id, reassign_count, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.SpotID, r.Date, r.OwnerID, r.RenterID, r.VehicleSize, r.PriceCents, r.Status, r.EscrowID, r.ReassignCount, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRental(r *models.Rental) error {
	_, err := p.db.Exec(`UPDATE rentals SET spot_id=$1, status=$2, escrow_id=$3, reassign_count=$4, updated_at=$5 WHERE id=$6`,
		r.SpotID, r.Status, r.EscrowID, r.ReassignCount, time.Now(), r.ID)
	return err
}

func (p *PostgresStore) GetRental(id string) (*models.Rental, error) {
	row := p.db.QueryRow(`SELECT id, spot_id, rental_date, owner_id, renter_id, vehicle_size, price_cents, status, escrow_id, reassign_count, created_at, updated_at FROM rentals WHERE id=$1`, id)
	var r models.Rental
	err := row.Scan(&r.ID, &r.SpotID, &r.Date, &r.OwnerID, &r.RenterID, &r.VehicleSize, &r.PriceCents, &r.Status, &r.EscrowID, &r.ReassignCount, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) AppendReassignment(rec *models.ReassignmentRecord) error {
	_, err := p.db.Exec(`INSERT INTO reassignment_records(id, rental_id, candidate_spot_id, outcome, at) VALUES($1,$2,$3,$4,$5)`,
		rec.ID, rec.RentalID, rec.CandidateSpotID, rec.Outcome, rec.At)
	return err
}

func (p *PostgresStore) ListReassignments(rentalID string) ([]models.ReassignmentRecord, error) {
	rows, err := p.db.Query(`SELECT id, rental_id, candidate_spot_id, outcome, at FROM reassignment_records WHERE rental_id=$1 ORDER BY at`, rentalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ReassignmentRecord
	for rows.Next() {
		var rec models.ReassignmentRecord
		if err := rows.Scan(&rec.ID, &rec.RentalID, &rec.CandidateSpotID, &rec.Outcome, &rec.At); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SavePenalty(pe *models.Penalty) error {
	_, err := p.db.Exec(`INSERT INTO penalties(id, user_id, offense, amount_cents, paid, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		pe.ID, pe.UserID, pe.Offense, pe.AmountCents, pe.Paid, pe.CreatedAt)
	return err
}

func (p *PostgresStore) SaveCredit(c *models.Credit) error {
	_, err := p.db.Exec(`INSERT INTO credits(id, user_id, amount_cents, reason, created_at) VALUES($1,$2,$3,$4,$5)`,
		c.ID, c.UserID, c.AmountCents, c.Reason, c.CreatedAt)
	return err
}
