package config

import (
	"log"
	"os"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// DefaultMarketTZ is used when MARKET_TZ is unset.
const DefaultMarketTZ = "Asia/Seoul"

// DefaultLocation is the DefaultMarketTZ zone, resolved once.
var DefaultLocation = sync.OnceValue(func() *time.Location {
	return loadLocation(DefaultMarketTZ)
})

const (
	ModePaper = "paper"
	ModeLive  = "live"
)

const (
	PaperBaseURL = "https://paper-api.alpaca.markets"
	LiveBaseURL  = "https://api.alpaca.markets"
)

// Config holds every tunable of the engine. Defaults mirror the values the
// desk has been trading with.
type Config struct {
	Version string

	// Loc is the exchange's wall clock. Bucket keys, session windows and
	// the trend-reversal schedule are all read in this zone.
	Loc *time.Location

	// Gateway
	Mode           string
	APIKeyID       string
	APISecretKey   string
	BaseURL        string
	DataFeed       string
	GatewayTimeout time.Duration

	// Logging
	LogLevel      string
	LogFile       string
	MaxLogSizeMB  int64
	MaxLogBackups int

	// Telegram
	TelegramToken  string
	TelegramChatID string

	// Capital & slots
	MaxSlots    int
	InvestRatio float64

	// Monitor cycle
	MonitorInterval time.Duration
	SyncEveryCycles int
	SyncGrace       time.Duration
	MissingLimit    int
	ManualSellFloor int64

	// Candles
	CandleWidth time.Duration
	CandleCap   int

	// Exit rules
	FlowDropRate        float64
	PartialProfitRate   float64
	PartialSellRatio    float64
	StopLossRate        float64
	MomentumStopLoss    float64
	TrailTriggerRate    float64
	TrailGap            float64
	TrailGapUnstable    float64
	DepthImbalance      float64
	TimeStop            time.Duration
	TimeStopProfit      float64
	MorningWindow       int
	MorningBearish      int
	AfternoonWindow     int
	AfternoonBearish    int
	MorningSessionEnd   string
	AfternoonSessionEnd string

	// Cooldown
	ReentryDelay time.Duration
	FlowRiseRate float64

	// Session
	SessionOpen  string
	SessionClose string

	// Scanning
	ScanInterval       time.Duration
	Watchlist          []string
	GroupMapFile       string
	PyramidingEnabled  bool
	MinStockPrice      float64
	FlowLevelZero      int64
	FlowMilestones     []int64
	FlowRateMin        float64
	FlowRateMax        float64
	MaxWickRatio       float64
	MinTotalDepthValue int64
	MinBestDepthValue  int64
	MomentumWindow     time.Duration
	MomentumRateMin    float64
	MomentumRateMax    float64
	MomentumGapMin     float64
	MomentumGapMax     float64
	GroupWindow        time.Duration
	LeaderLockTimeout  time.Duration
	FlowFilterEarly    int64
	FlowFilter         int64
	BidAskRatioMin     float64
	BidAskRatioMax     float64
	MaxDailyMomentum   int
	MaxDailyGroup      int
	HeartbeatInterval  time.Duration

	// Supervisor
	MaxRestarts    int
	RestartBackoff time.Duration

	// Persistence & observability
	JournalPath string
	StatePath   string
	MetricsAddr string
}

// Load initializes the configuration.
// It tries to read a .env file and checks for necessary environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	requiredSecretVars := map[string]bool{
		"APCA_API_KEY_ID":     true,
		"APCA_API_SECRET_KEY": true,
	}
	optionalSecretVars := map[string]bool{
		"TELEGRAM_BOT_TOKEN": true,
	}

	var missing []string
	for key := range requiredSecretVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		log.Fatalf("CRITICAL: Missing required environment variables: %v", missing)
	}

	envMap, err := godotenv.Read()
	if err == nil {
		log.Println("--- .env File Variables ---")
		for key, val := range envMap {
			if requiredSecretVars[key] || optionalSecretVars[key] {
				log.Printf("%s=%s", key, mask(val))
			} else {
				log.Printf("%s=%s", key, val)
			}
		}
		log.Println("---------------------------")
	}

	return fromEnv()
}

// fromEnv builds a Config from the process environment without validation.
func fromEnv() *Config {
	cfg := &Config{
		Mode:           strings.ToLower(getEnv("TRADING_MODE", ModePaper)),
		APIKeyID:       os.Getenv("APCA_API_KEY_ID"),
		APISecretKey:   os.Getenv("APCA_API_SECRET_KEY"),
		BaseURL:        os.Getenv("APCA_API_BASE_URL"),
		DataFeed:       strings.ToLower(getEnv("APCA_DATA_FEED", "iex")),
		GatewayTimeout: getEnvAsDuration("GATEWAY_TIMEOUT", 5*time.Second),

		LogLevel:      strings.ToUpper(getEnv("WATCHER_LOG_LEVEL", "INFO")),
		LogFile:       getEnv("WATCHER_LOG_FILE", "trader.log"),
		MaxLogSizeMB:  int64(getEnvAsInt("MAX_LOG_SIZE_MB", 10)),
		MaxLogBackups: getEnvAsInt("MAX_LOG_BACKUPS", 5),

		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),

		MaxSlots:    getEnvAsInt("MAX_GLOBAL_SLOTS", 6),
		InvestRatio: getEnvAsFloat64("INVEST_RATIO", 0.15),

		MonitorInterval: getEnvAsDuration("MONITOR_INTERVAL", 100*time.Millisecond),
		SyncEveryCycles: getEnvAsInt("SYNC_EVERY_CYCLES", 10),
		SyncGrace:       getEnvAsDuration("SYNC_GRACE", 10*time.Second),
		MissingLimit:    getEnvAsInt("MISSING_LIMIT", 3),
		ManualSellFloor: getEnvAsInt64("MANUAL_SELL_FLOW_FLOOR", 999_999_999_999),

		CandleWidth: getEnvAsDuration("CANDLE_WIDTH", 5*time.Minute),
		CandleCap:   getEnvAsInt("CANDLE_HISTORY_CAP", 20),

		FlowDropRate:        getEnvAsFloat64("FLOW_DROP_RATE", 0.30),
		PartialProfitRate:   getEnvAsFloat64("PARTIAL_PROFIT_RATE", 0.02),
		PartialSellRatio:    getEnvAsFloat64("PARTIAL_SELL_RATIO", 0.5),
		StopLossRate:        getEnvAsFloat64("STOP_LOSS_RATE", -0.02),
		MomentumStopLoss:    getEnvAsFloat64("MOMENTUM_STOP_LOSS_RATE", -0.01),
		TrailTriggerRate:    getEnvAsFloat64("TS_TRIGGER_RATE", 0.04),
		TrailGap:            getEnvAsFloat64("TS_STOP_GAP", 0.02),
		TrailGapUnstable:    getEnvAsFloat64("TS_STOP_GAP_UNSTABLE", 0.01),
		DepthImbalance:      getEnvAsFloat64("DEPTH_IMBALANCE_RATIO", 2.0),
		TimeStop:            getEnvAsDuration("TIME_STOP", 600*time.Minute),
		TimeStopProfit:      getEnvAsFloat64("TIME_STOP_PROFIT", 0.0),
		MorningWindow:       getEnvAsInt("TREND_MORNING_BARS", 6),
		MorningBearish:      getEnvAsInt("TREND_MORNING_BEARISH", 4),
		AfternoonWindow:     getEnvAsInt("TREND_AFTERNOON_BARS", 12),
		AfternoonBearish:    getEnvAsInt("TREND_AFTERNOON_BEARISH", 8),
		MorningSessionEnd:   getEnv("TREND_MORNING_END", "11:30"),
		AfternoonSessionEnd: getEnv("TREND_AFTERNOON_END", "15:20"),

		ReentryDelay: getEnvAsDuration("REBUY_COOLTIME", 480*time.Minute),
		FlowRiseRate: getEnvAsFloat64("FLOW_RISE_RATE", 0.30),

		SessionOpen:  getEnv("SESSION_OPEN", "09:00"),
		SessionClose: getEnv("SESSION_CLOSE", "15:15"),

		ScanInterval:       getEnvAsDuration("SCAN_INTERVAL", time.Second),
		Watchlist:          getEnvAsList("WATCHLIST"),
		GroupMapFile:       getEnv("GROUP_MAP_FILE", "groups.toml"),
		PyramidingEnabled:  getEnvAsBool("PYRAMIDING_ENABLED", false),
		MinStockPrice:      getEnvAsFloat64("MIN_STOCK_PRICE", 1000),
		FlowLevelZero:      getEnvAsInt64("FLOW_LEVEL_0_AMT", 5_000_000_000),
		FlowMilestones:     getEnvAsInt64List("FLOW_MILESTONES", []int64{5_000_000_000, 20_000_000_000, 50_000_000_000, 100_000_000_000, 150_000_000_000, 200_000_000_000}),
		FlowRateMin:        getEnvAsFloat64("FLOW_RATE_MIN", 3.0),
		FlowRateMax:        getEnvAsFloat64("FLOW_RATE_MAX", 30.0),
		MaxWickRatio:       getEnvAsFloat64("MAX_WICK_RATIO", 0.3),
		MinTotalDepthValue: getEnvAsInt64("MIN_TOTAL_DEPTH_AMT", 200_000_000),
		MinBestDepthValue:  getEnvAsInt64("MIN_BEST_DEPTH_AMT", 50_000_000),
		MomentumWindow:     getEnvAsDuration("MOMENTUM_WINDOW", 20*time.Minute),
		MomentumRateMin:    getEnvAsFloat64("MOMENTUM_RATE_MIN", 5.0),
		MomentumRateMax:    getEnvAsFloat64("MOMENTUM_RATE_MAX", 15.0),
		MomentumGapMin:     getEnvAsFloat64("MOMENTUM_GAP_MIN", 1.0),
		MomentumGapMax:     getEnvAsFloat64("MOMENTUM_GAP_MAX", 12.0),
		GroupWindow:        getEnvAsDuration("GROUP_WINDOW", time.Hour),
		LeaderLockTimeout:  getEnvAsDuration("LEADER_LOCK_TIMEOUT", 30*time.Second),
		FlowFilterEarly:    getEnvAsInt64("FLOW_FILTER_EARLY_AMT", 5_000_000_000),
		FlowFilter:         getEnvAsInt64("FLOW_FILTER_AMT", 20_000_000_000),
		BidAskRatioMin:     getEnvAsFloat64("BID_ASK_RATIO_MIN", 20.0),
		BidAskRatioMax:     getEnvAsFloat64("BID_ASK_RATIO_MAX", 90.0),
		MaxDailyMomentum:   getEnvAsInt("MAX_DAILY_MOMENTUM", 0),
		MaxDailyGroup:      getEnvAsInt("MAX_DAILY_GROUP", 0),
		HeartbeatInterval:  getEnvAsDuration("HEARTBEAT_INTERVAL", time.Minute),

		MaxRestarts:    getEnvAsInt("SUPERVISOR_MAX_RESTARTS", 5),
		RestartBackoff: getEnvAsDuration("SUPERVISOR_BACKOFF", 5*time.Second),

		JournalPath: getEnv("JOURNAL_PATH", "journal.db"),
		StatePath:   getEnv("STATE_FILE", "portfolio_state.json"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	if cfg.Mode != ModeLive {
		cfg.Mode = ModePaper
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = PaperBaseURL
		if cfg.Mode == ModeLive {
			cfg.BaseURL = LiveBaseURL
		}
	}
	cfg.Loc = loadLocation(os.Getenv("MARKET_TZ"))
	return cfg
}

// IsLive reports whether orders go to the real account.
func (c *Config) IsLive() bool {
	return c.Mode == ModeLive
}

func mask(val string) string {
	if len(val) > 4 {
		return "***" + val[len(val)-4:]
	}
	return "***"
}

// Location is Loc, or DefaultLocation for configs built without Load.
func (c *Config) Location() *time.Location {
	if c.Loc != nil {
		return c.Loc
	}
	return DefaultLocation()
}

func loadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultMarketTZ
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("Warning: Unknown MARKET_TZ %q, using fixed +09:00", name)
		return time.FixedZone("KST", 9*3600)
	}
	return loc
}
