package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pot-code/lecture-gate/internal/access"
	infra "github.com/pot-code/lecture-gate/internal/infrastructure"
	"github.com/pot-code/lecture-gate/internal/infrastructure/driver"
	"github.com/pot-code/lecture-gate/internal/infrastructure/logging"
	"github.com/pot-code/lecture-gate/internal/infrastructure/uuid"
	"github.com/pot-code/lecture-gate/internal/interfaces/rest"
	"github.com/pot-code/lecture-gate/internal/lecture"
	"github.com/pot-code/lecture-gate/internal/payment"
	"go.uber.org/zap"
)

func main() {
	log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)
	option, err := infra.InitConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		FilePath: option.Logging.FilePath,
		Level:    option.Logging.Level,
		AppID:    option.AppID,
		Env:      option.Env,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %s\n", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := driver.NewRedisClient(option.KVStore.Host, option.KVStore.Port, option.KVStore.Password)
	defer rdb.Close()

	var (
		dbConn      driver.ITransactionalDB
		LectureRepo lecture.LectureRepository
	)
	switch option.Catalog.Driver {
	case "http":
		LectureRepo = lecture.NewHTTPLectureRepository(option.Catalog.Endpoint, option.RequestTimeout, rdb)
	default:
		dbConn, err = driver.GetDBConnection(&driver.DBConfig{
			User:     option.Database.User,
			Password: option.Database.Password,
			MaxConn:  option.Database.MaxConn,
			Protocol: option.Database.Protocol,
			Driver:   option.Database.Driver,
			Host:     option.Database.Host,
			Port:     option.Database.Port,
			Query:    option.Database.Query,
			Schema:   option.Database.Schema,
		})
		if err != nil {
			logger.Fatal("Failed to create DB connection", zap.Error(err))
		}
		defer dbConn.Close(context.Background())
		logger.Debug("Created DB connection", zap.String("db.driver", option.Database.Driver),
			zap.String("db.schema", option.Database.Schema),
			zap.String("db.host", option.Database.Host),
		)
		LectureRepo = lecture.NewSQLLectureRepository(dbConn)
	}
	LectureUseCase := lecture.NewLectureUseCase(LectureRepo, option.Catalog.TopK)

	price := payment.Price{Amount: option.Payment.Price, Currency: option.Payment.Currency}
	var gateway access.PaymentGateway
	switch option.Payment.Driver {
	case "http":
		gateway = payment.NewProcessor(option.Payment.Endpoint, price, option.Payment.Timeout)
	default:
		logger.Warn("Using the mock payment gateway, unlocks are free")
		gateway = payment.NewMock(price, option.Payment.MockLatency)
	}
	Ledger := payment.NewLedger(payment.RequireWallet(gateway), rdb, option.Payment.ReceiptTTL, logger)

	Registry := access.NewRegistry(access.Options{
		PreviewDuration: option.Preview.Duration,
		Embedder:        lecture.EmbedURL,
		Gateway:         Ledger,
		PriceLabel:      price.Label(),
		Logger:          logger,
	}, uuid.NewNanoIDGenerator(option.Security.IDLength))

	if err := rest.Serve(ctx, dbConn, rdb, option, Registry, LectureUseCase, Ledger, logger); err != nil {
		logger.Fatal("Server exited", zap.Error(err))
	}
}
