package redis

type Config struct {
	Addrs     []string `mapstructure:"addrs"`
	Namespace string   `mapstructure:"namespace"`
	PoolSize  int      `mapstructure:"pool-size"`
	Password  string   `mapstructure:"password"`
}
