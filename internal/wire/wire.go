package wire

import (
	"TelegramMini/internal/api"
	"TelegramMini/internal/api/config"
	"TelegramMini/internal/api/handler"
	"TelegramMini/internal/job"
	"TelegramMini/internal/pkg/cron"
	"TelegramMini/internal/pkg/kafka"
	"TelegramMini/internal/pkg/mongo"
	"TelegramMini/internal/pkg/presence"
	"TelegramMini/internal/pkg/realtime"
	"TelegramMini/internal/pkg/redis"
	"TelegramMini/internal/pkg/security"
	"TelegramMini/internal/repository"
	"TelegramMini/internal/service"
	log "log/slog"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router        *gin.Engine
	DB            *gorm.DB
	Broker        *redis.Broker
	KafkaProducer *kafka.EventProducer
	Hub           *realtime.Hub
	Tracker       *presence.Tracker
	CronMgr       *cron.Manager
}

func BuildApplication(db *gorm.DB, mongoDB *mongodriver.Database, rdb *goredis.Client, cfg *config.Config) (*ApplicationContainer, error) {
	convRepo := repository.NewConversationRepo(db)
	userRepo := repository.NewUserRepo(db)
	messageRepo := mongo.NewMessageRepo(mongoDB)

	broker, err := redis.NewBroker(rdb)
	if err != nil {
		return nil, err
	}
	publishers := []service.Publisher{broker}

	// Kafka 镜像可选，未开启时只走 Redis
	var producer *kafka.EventProducer
	if cfg.Kafka.Enable {
		producer, err = kafka.NewEventProducer(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, producer)
	}

	// hub → fanout → tracker → service，tracker 的变更经 fanout 推送
	hub := realtime.NewHub()
	fanout := service.NewFanout(hub, convRepo, publishers...)
	tracker := presence.NewTracker(fanout, presence.WithTimeout(time.Duration(cfg.Presence.Timeout)*time.Second))

	imService, err := service.NewIMService(convRepo, userRepo, messageRepo, fanout, tracker)
	if err != nil {
		return nil, err
	}

	verifier, err := security.NewJWTVerifier(cfg.JWT)
	if err != nil {
		return nil, err
	}

	handlers := &api.HandlersGroup{
		IMHandler:       handler.NewIMHandler(imService),
		WsHandler:       handler.NewWsHandler(imService, hub, tracker, verifier),
		PresenceHandler: handler.NewPresenceHandler(imService),
	}
	router := api.SetupRouter(handlers, verifier, cfg.Logstash)

	cronMgr := cron.NewCronManager(job.NewPresenceSweepJob(tracker), cfg.Presence.SweepInterval)

	log.Info("Application assembled", "kafka", producer != nil, "presence_timeout", tracker.Timeout())
	return &ApplicationContainer{
		Router:        router,
		DB:            db,
		Broker:        broker,
		KafkaProducer: producer,
		Hub:           hub,
		Tracker:       tracker,
		CronMgr:       cronMgr,
	}, nil
}
