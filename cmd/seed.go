package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/studiolink/smshub/internal/config"
	"github.com/studiolink/smshub/internal/db"
	"github.com/studiolink/smshub/internal/model"
	"github.com/studiolink/smshub/internal/util"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo studios and credential accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.MySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo studios...")

		if err := seedStudios(sqlDB); err != nil {
			return err
		}
		if err := seedAccounts(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func strptr(s string) *string { return &s }

// normalized stores studio numbers in the 10-digit form GetByPhone compares.
func normalized(p *string) *string {
	return model.StrPtr(util.NormalizePhone(model.Deref(p)))
}

var demoStudios = []model.Studio{
	{ID: "plano", Name: "Plano", ZohoOwnerID: strptr("400000000000001"), RingCentralPhone: strptr("9725550101"), ManagerName: strptr("Dana"), CallbackPhone: strptr("(972) 555-0100"), Active: true},
	{ID: "frisco", Name: "Frisco", ZohoOwnerID: strptr("400000000000002"), RingCentralPhone: strptr("4695550102"), ManagerName: strptr("Luis"), Active: true},
	{ID: "southlake", Name: "Southlake", ZohoOwnerID: strptr("400000000000003"), TwilioPhone: strptr("8175550103"), RingCentralPhone: strptr("8175550203"), Active: true},
	{ID: "legacy", Name: "Legacy", TwilioPhone: strptr("2145550104"), Active: false},
}

// seedStudios upserts the demo studios keyed by id (idempotent).
func seedStudios(dbx *sqlx.DB) error {
	const q = `
INSERT INTO studios
    (id, name, zoho_owner_id, twilio_phone, ringcentral_phone, active, manager_name, callback_phone, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name              = VALUES(name),
    zoho_owner_id     = VALUES(zoho_owner_id),
    twilio_phone      = VALUES(twilio_phone),
    ringcentral_phone = VALUES(ringcentral_phone),
    active            = VALUES(active),
    manager_name      = VALUES(manager_name),
    callback_phone    = VALUES(callback_phone),
    updated_at        = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, s := range demoStudios {
		if _, err := tx.Exec(q, s.ID, s.Name, s.ZohoOwnerID, normalized(s.TwilioPhone), normalized(s.RingCentralPhone),
			s.Active, s.ManagerName, s.CallbackPhone, now, now); err != nil {
			return fmt.Errorf("insert studio %q: %w", s.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit studios: %w", err)
	}
	return nil
}

// seedAccounts creates one expired Zoho and one expired RingCentral account
// shared by every active studio. The first API call refreshes them.
func seedAccounts(dbx *sqlx.DB) error {
	accounts := []model.Account{
		{ID: "zoho-default", Platform: model.PlatformZoho, ClientID: "demo-zoho-client", ClientSecret: "demo-zoho-secret", RefreshToken: "demo-zoho-refresh"},
		{ID: "rc-default", Platform: model.PlatformRingCentral, ClientID: "demo-rc-client", ClientSecret: "demo-rc-secret", RefreshToken: "demo-rc-refresh"},
	}

	const upsert = `
INSERT INTO accounts
    (id, platform, client_id, client_secret, access_token, refresh_token, expires_in, created_at, updated_at)
VALUES
    (?, ?, ?, ?, '', ?, 0, ?, ?)
ON DUPLICATE KEY UPDATE
    client_id     = VALUES(client_id),
    client_secret = VALUES(client_secret)
`
	const link = `
INSERT IGNORE INTO studio_accounts (studio_id, account_id)
SELECT s.id, ? FROM studios s WHERE s.active = 1
`
	now := time.Now().UTC()
	for _, a := range accounts {
		if _, err := dbx.Exec(upsert, a.ID, a.Platform.String(), a.ClientID, a.ClientSecret, a.RefreshToken, now, now); err != nil {
			return fmt.Errorf("insert account %q: %w", a.ID, err)
		}
		if _, err := dbx.Exec(link, a.ID); err != nil {
			return fmt.Errorf("link account %q: %w", a.ID, err)
		}
	}
	return nil
}
