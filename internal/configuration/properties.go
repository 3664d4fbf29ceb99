package configuration

type Config struct {
	Application ApplicationConfigProperties `yaml:"app"`
	Endpoint    EndpointConfigProperties    `yaml:"endpoint"`
	Stores      []StoreConfigProperties     `yaml:"stores"`
	Metrics     MetricsConfigProperties     `yaml:"metrics"`
}

type ApplicationConfigProperties struct {
	Profile  string `yaml:"profile"`
	LogLevel string `yaml:"log-level"`
}

type EndpointConfigProperties struct {
	Name            string   `yaml:"name"`
	Listen          string   `yaml:"listen"`
	ListenWebSocket string   `yaml:"listen-websocket"`
	Peers           []string `yaml:"peers"`
	WebSocketPeers  []string `yaml:"websocket-peers"`
}

type StoreConfigProperties struct {
	Name    string `yaml:"name"`
	Role    string `yaml:"role"`    // master, clone or frontend
	Backend string `yaml:"backend"` // memory, sqlite or leveldb
	Path    string `yaml:"path"`
	Journal string `yaml:"journal"`
}

type MetricsConfigProperties struct {
	Address string `yaml:"address"`
}
