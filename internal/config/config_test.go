package config

import "testing"

func validConfig() Config {
	cfg := Defaults()
	cfg.Database.URL = "postgres://localhost/hedgebridge"
	cfg.Chain.WSRPCURL = "wss://example.invalid/ws"
	cfg.Chain.OrderbookAddress = "0x1111111111111111111111111111111111111111"
	cfg.Chain.OrderHash = "0xdead"
	cfg.Chain.Tokens = []TokenMapping{{Address: "0x2222222222222222222222222222222222222222", Symbol: "AAPL", Decimals: 18}}
	cfg.S3.AccessKey = "key"
	cfg.S3.SecretKey = "secret"
	return cfg
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsMissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a missing database url")
	}
}

func TestValidateRejectsPoolMinExceedingMax(t *testing.T) {
	cfg := validConfig()
	cfg.Database.PoolMinConns = 20
	cfg.Database.PoolMaxConns = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when pool_min_conns exceeds pool_max_conns")
	}
}

func TestValidateRejectsMissingChainTokens(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.Tokens = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an empty chain token table")
	}
}

func TestValidateRejectsUnknownBrokerKind(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.Kind = "fake"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unknown broker kind")
	}
}

func TestValidateRequiresOAuthFieldsForRealBroker(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.Kind = "real"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error when kind=real is missing OAuth2 fields")
	}

	cfg.Broker.BaseURL = "https://api.broker.example"
	cfg.Broker.ClientID = "id"
	cfg.Broker.ClientSecret = "secret"
	cfg.Broker.AccountHash = "hash"
	cfg.Broker.AuthURL = "https://api.broker.example/auth"
	cfg.Broker.TokenURL = "https://api.broker.example/token"
	cfg.Broker.TokenKeyPassphrase = "passphrase"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() with all real-broker fields set = %v, want nil", err)
	}
}

func TestValidateRejectsInvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unrecognized log_level")
	}
}

func TestValidateRejectsNonPositivePollInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Execution.PollInterval.Duration = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a zero poll_interval")
	}
}

func TestValidateRejectsOutOfRangeServerPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Enabled = true
	cfg.Server.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an out-of-range server port")
	}
}
