package main

import (
	"flag"
	"log/slog"
	"net/http"
	"time"

	"vinflow-backend/lib/configutil"
	"vinflow-backend/lib/telemetry"
	"vinflow-backend/lib/util/serviceutil"
	"vinflow-backend/services/alerts"
	alertdb "vinflow-backend/services/alerts/db"
	"vinflow-backend/services/consistency"
	"vinflow-backend/services/dealers"
	"vinflow-backend/services/inventory"
	invdb "vinflow-backend/services/inventory/db"
	"vinflow-backend/services/orders"
	orderdb "vinflow-backend/services/orders/db"
	"vinflow-backend/services/qrlifecycle"
	qrdb "vinflow-backend/services/qrlifecycle/db"
	"vinflow-backend/services/scheduler"
	"vinflow-backend/services/vinhistory"
	vhdb "vinflow-backend/services/vinhistory/db"
)

func main() {
	configPath := flag.String("config", "config.json5", "path to the daemon configuration")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	telemetry.InitSlog(*verbose)

	ctx := serviceutil.SignalContext()
	err := telemetry.SetupFromEnv(ctx, "vinflowd")
	if err != nil {
		serviceutil.Fatal("failed to set up telemetry", err)
	}
	defer telemetry.Shutdown(ctx)

	config, err := configutil.ReadConfig[DaemonConfig](*configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	config = config.withDefaults()

	registry, err := dealers.Load(config.DealersConfig)
	if err != nil {
		serviceutil.Fatal("failed to load dealership registry", err)
	}

	slog.Info("opening stores...", "data_dir", config.DataDir)
	inventoryDB, err := openStore(config.DataDir, "inventory", invdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open inventory store", err)
	}
	historyDB, err := openStore(config.DataDir, "vinhistory", vhdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open vin history store", err)
	}
	qrDB, err := openStore(config.DataDir, "qrlifecycle", qrdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open qr store", err)
	}
	orderDB, err := openStore(config.DataDir, "orders", orderdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open order store", err)
	}
	alertDB, err := openStore(config.DataDir, "alerts", alertdb.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open alert store", err)
	}

	store := inventory.NewStore(inventoryDB)
	history := vinhistory.NewService(historyDB, vinhistory.Options{})
	qr := qrlifecycle.NewService(qrDB, qrlifecycle.Options{
		Timeout:           time.Second * time.Duration(config.Qr.TimeoutSeconds),
		RetryCount:        config.Qr.RetryCount,
		Concurrency:       config.Qr.Concurrency,
		RequestsPerSecond: config.Qr.RequestsPerSecond,
		SoldMarkers:       config.Qr.SoldMarkers,
	})
	dispatcher := alerts.NewService(alertDB, []alerts.BackupSource{
		{Name: "inventory", DB: inventoryDB},
		{Name: "vinhistory", DB: historyDB},
		{Name: "qrlifecycle", DB: qrDB},
	}, alerts.Options{
		Smtp:      config.Smtp,
		BackupDir: config.BackupDir,
	})
	checker := consistency.NewService(inventoryDB, historyDB, registry, dispatcher, consistency.Options{})
	orderSvc := orders.NewService(orderDB, registry, store, history, qr, orders.Options{
		ArtifactDir: config.ArtifactDir,
	})
	background := scheduler.NewService(registry, store, qr, checker, dispatcher, scheduler.Options{})

	background.Start(ctx)

	api := apiServer{
		registry:    registry,
		inventory:   store,
		qr:          qr,
		consistency: checker,
		orders:      orderSvc,
		scheduler:   background,
	}
	mux := http.NewServeMux()
	api.register(mux)

	serviceutil.StartHttpServer(config.Port, mux)
}
