package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"familytasks/internal/config"
	"familytasks/internal/database"
	"familytasks/internal/logging"
	"familytasks/internal/repository"
	"familytasks/internal/security"
	"familytasks/internal/service"
)

type services struct {
	auth   *service.AuthService
	family *service.FamilyService
	backup *service.BackupService
}

func main() {
	// Define subcommands
	legacyCmd := flag.NewFlagSet("legacy", flag.ExitOnError)
	inviteCmd := flag.NewFlagSet("invite-legacy", flag.ExitOnError)
	setPasswordCmd := flag.NewFlagSet("set-password", flag.ExitOnError)
	setRoleCmd := flag.NewFlagSet("set-role", flag.ExitOnError)
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)

	passwordEmail := setPasswordCmd.String("email", "", "Account email (required)")
	password := setPasswordCmd.String("password", "", "New password (required)")
	roleEmail := setRoleCmd.String("email", "", "Account email (required)")
	role := setRoleCmd.String("role", "", "ADMIN, ADULT or CHILD (required)")
	exportFamily := exportCmd.Int64("family", 0, "Family ID (required)")
	exportOutput := exportCmd.String("output", "", "Output file path (default: family_<id>_YYYYMMDD_HHMMSS.json)")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Setup(cfg.LogLevel, "console")

	ctx := context.Background()
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Run migrations to ensure schema is up to date
	if err := db.RunMigrations(ctx, cfg.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	svc, err := newServices(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}

	switch os.Args[1] {
	case "legacy":
		legacyCmd.Parse(os.Args[2:])
		err = handleLegacy(ctx, svc)

	case "invite-legacy":
		inviteCmd.Parse(os.Args[2:])
		err = handleInviteLegacy(ctx, svc)

	case "set-password":
		setPasswordCmd.Parse(os.Args[2:])
		if *passwordEmail == "" || *password == "" {
			fmt.Println("Error: -email and -password are required")
			setPasswordCmd.PrintDefaults()
			os.Exit(1)
		}
		err = svc.auth.SetPassword(ctx, *passwordEmail, *password)
		if err == nil {
			log.Info().Str("email", *passwordEmail).Msg("Password set")
		}

	case "set-role":
		setRoleCmd.Parse(os.Args[2:])
		if *roleEmail == "" || *role == "" {
			fmt.Println("Error: -email and -role are required")
			setRoleCmd.PrintDefaults()
			os.Exit(1)
		}
		member, roleErr := svc.family.SetRoleByEmail(ctx, *roleEmail, *role)
		err = roleErr
		if err == nil {
			log.Info().Str("email", *roleEmail).Str("role", member.Role.String()).Msg("Role updated")
		}

	case "export":
		exportCmd.Parse(os.Args[2:])
		if *exportFamily <= 0 {
			fmt.Println("Error: -family is required")
			exportCmd.PrintDefaults()
			os.Exit(1)
		}
		err = handleExport(ctx, svc, *exportFamily, *exportOutput)

	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("Command failed")
	}
}

func newServices(ctx context.Context, cfg *config.Config, db *database.DB) (*services, error) {
	identityRepo := repository.NewIdentityRepository(db)
	familyRepo := repository.NewFamilyRepository(db)

	issuer, err := security.NewTokenIssuer(security.TokenConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
		TTL:      cfg.TokenTTL,
	})
	if err != nil {
		return nil, err
	}

	emailService, err := service.NewEmailService(ctx, cfg.AWSRegion, cfg.SESFromEmail, cfg.SESFromName, cfg.AppBaseURL, cfg.EmailDebug)
	if err != nil {
		return nil, err
	}

	authService := service.NewAuthService(db, identityRepo, familyRepo, issuer, emailService)
	return &services{
		auth:   authService,
		family: service.NewFamilyService(db, identityRepo, familyRepo, authService),
		backup: service.NewBackupService(familyRepo, repository.NewListRepository(db)),
	}, nil
}

func handleLegacy(ctx context.Context, svc *services) error {
	identities, err := svc.auth.LegacyAccounts(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tCREATED")
	for _, identity := range identities {
		fmt.Fprintf(w, "%d\t%s\t%s\n", identity.ID, identity.Email, identity.CreatedAt.Format("2006-01-02"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("%d account(s) without a password\n", len(identities))
	return nil
}

func handleInviteLegacy(ctx context.Context, svc *services) error {
	sent, err := svc.auth.InviteLegacyAccounts(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("sent", sent).Msg("Password setup emails sent")
	return nil
}

func handleExport(ctx context.Context, svc *services, familyID int64, outputPath string) error {
	// Generate default filename if not provided
	if outputPath == "" {
		outputPath = fmt.Sprintf("family_%d_%s.json", familyID, time.Now().Format("20060102_150405"))
	}

	// Ensure directory exists
	if dir := filepath.Dir(outputPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := svc.backup.ExportToWriter(ctx, familyID, file); err != nil {
		return err
	}
	log.Info().Str("path", outputPath).Int64("family_id", familyID).Msg("Export complete")
	return nil
}

func printUsage() {
	fmt.Println("Family Tasks Account Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  accounts legacy                              List accounts without a password")
	fmt.Println("  accounts invite-legacy                       Email a password setup link to every legacy account")
	fmt.Println("  accounts set-password -email <e> -password <p>  Set an account's password")
	fmt.Println("  accounts set-role -email <e> -role <r>          Change a member's role")
	fmt.Println("  accounts export -family <id> [-output <file>]   Export a family's members and lists to JSON")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_TYPE    Database type: sqlite, postgres, or mysql (default: sqlite)")
	fmt.Println("  DB_PATH          SQLite database path (default: ./familytasks.db)")
	fmt.Println("  DATABASE_URL     PostgreSQL or MySQL connection URL")
	fmt.Println("  JWT_SECRET       Token signing secret, shared with the server")
	fmt.Println("  SES_FROM_EMAIL   Sender address; invitations are only logged when unset")
}
