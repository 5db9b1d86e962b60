package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vinflow-backend/lib/configutil"
	"vinflow-backend/services/dealers"
	"vinflow-backend/services/inventory"
	invdb "vinflow-backend/services/inventory/db"
	"vinflow-backend/services/orders"
	orderdb "vinflow-backend/services/orders/db"
	"vinflow-backend/services/qrlifecycle"
	qrdb "vinflow-backend/services/qrlifecycle/db"
	"vinflow-backend/services/vinhistory"
	vhdb "vinflow-backend/services/vinhistory/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vinflow-cli",
	Short: "Operator tooling for the inventory fulfillment pipeline.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json5", "path to the daemon configuration")
}

func ExecuteContext(ctx context.Context) {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

type cliConfig struct {
	DataDir       string `json:"data_dir"`
	DealersConfig string `json:"dealers_config"`
	ArtifactDir   string `json:"artifact_dir"`
}

func (c cliConfig) withDefaults() cliConfig {
	out := c
	if out.DataDir == "" {
		out.DataDir = "data"
	}
	if out.DealersConfig == "" {
		out.DealersConfig = "dealers.json5"
	}
	if out.ArtifactDir == "" {
		out.ArtifactDir = filepath.Join(out.DataDir, "artifacts")
	}
	return out
}

type env struct {
	registry    *dealers.Registry
	inventoryDB *sql.DB
	historyDB   *sql.DB
	store       inventory.Store
	history     *vinhistory.Service
	qr          *qrlifecycle.Service
	orders      *orders.Service
}

func openStore(dataDir, name, schema string) (*sql.DB, error) {
	path := filepath.Join(dataDir, name+".db")
	sqlite, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	_, err = sqlite.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return nil, fmt.Errorf("apply schema for %s: %w", name, err)
	}
	return sqlite, nil
}

func openEnv() (env, error) {
	config, err := configutil.ReadConfig[cliConfig](configPath)
	if err != nil {
		return env{}, fmt.Errorf("read config: %w", err)
	}
	config = config.withDefaults()

	registry, err := dealers.Load(config.DealersConfig)
	if err != nil {
		return env{}, err
	}

	inventoryDB, err := openStore(config.DataDir, "inventory", invdb.Schema)
	if err != nil {
		return env{}, err
	}
	historyDB, err := openStore(config.DataDir, "vinhistory", vhdb.Schema)
	if err != nil {
		return env{}, err
	}
	qrDB, err := openStore(config.DataDir, "qrlifecycle", qrdb.Schema)
	if err != nil {
		return env{}, err
	}
	orderDB, err := openStore(config.DataDir, "orders", orderdb.Schema)
	if err != nil {
		return env{}, err
	}

	store := inventory.NewStore(inventoryDB)
	history := vinhistory.NewService(historyDB, vinhistory.Options{})
	qr := qrlifecycle.NewService(qrDB, qrlifecycle.Options{})
	return env{
		registry:    registry,
		inventoryDB: inventoryDB,
		historyDB:   historyDB,
		store:       store,
		history:     history,
		qr:          qr,
		orders: orders.NewService(orderDB, registry, store, history, qr, orders.Options{
			ArtifactDir: config.ArtifactDir,
		}),
	}, nil
}
