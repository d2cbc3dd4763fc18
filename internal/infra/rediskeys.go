package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "a2a"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanCatalogRefresh: оператор или провайдер просит всех потребителей перечитать каталог.
	RedisChanCatalogRefresh = RedisNamespace + ":catalog:refresh"
)
