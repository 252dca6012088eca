package cmd

import (
	"log"

	"matricula-sync/core/config"
	"matricula-sync/core/database"
	"matricula-sync/core/logger"
	"matricula-sync/feature/sync/models"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedTurmas bool

// migrateCmd creates or updates the database schema.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Creates or updates the schema for all synced entities and the batch
ledger. With --seed, a set of demo classrooms is inserted for local
development.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(".")
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		logg, err := logger.New(&cfg.Log)
		if err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		defer logg.Sync()

		db, err := database.Connect(cfg.Database)
		if err != nil {
			return err
		}

		if err := models.Migrate(db); err != nil {
			return err
		}
		logg.Info("Schema migrated")

		if !seedTurmas {
			return nil
		}

		seeds := []models.Turma{
			{Nome: "Infantil A", Etapa: "INFANTIL", Turno: "manha", AnoLetivo: 2026, Capacidade: 20, VagasDisponiveis: 20},
			{Nome: "Infantil B", Etapa: "INFANTIL", Turno: "tarde", AnoLetivo: 2026, Capacidade: 20, VagasDisponiveis: 20},
			{Nome: "Fundamental 1A", Etapa: "FUNDAMENTAL", Turno: "manha", AnoLetivo: 2026, Capacidade: 30, VagasDisponiveis: 30},
			{Nome: "Medio 1A", Etapa: "MEDIO", Turno: "manha", AnoLetivo: 2026, Capacidade: 35, VagasDisponiveis: 35},
		}
		for _, turma := range seeds {
			var count int64
			if err := db.Model(&models.Turma{}).
				Where("nome = ? AND ano_letivo = ?", turma.Nome, turma.AnoLetivo).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			if err := db.Create(&turma).Error; err != nil {
				return err
			}
			logg.Info("Seeded classroom",
				zap.String("nome", turma.Nome),
				zap.Int("capacidade", turma.Capacidade))
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&seedTurmas, "seed", false, "insert demo classrooms after migrating")
	RootCmd.AddCommand(migrateCmd)
}
