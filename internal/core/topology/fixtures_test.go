package topology

// Descriptors shaped like the ones shipped next to the application.

const devDescriptor = `
services:
  bot:
    build: .
    image: nutrition-bot:dev
    depends_on:
      postgres:
        condition: service_healthy
      redis:
        condition: service_healthy
    restart: unless-stopped
    networks: [botnet]
  postgres:
    image: postgres:16-alpine
    environment:
      POSTGRES_USER: ${POSTGRES_USER}
      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD}
      POSTGRES_DB: ${POSTGRES_DB}
    volumes:
      - postgres_data:/var/lib/postgresql/data
    healthcheck:
      test: ["CMD-SHELL", "pg_isready -U ${POSTGRES_USER}"]
      interval: 5s
      timeout: 5s
      retries: 5
    networks: [botnet]
  redis:
    image: redis:7-alpine
    command: ["redis-server", "--requirepass", "${REDIS_PASSWORD}"]
    volumes:
      - redis_data:/data
    healthcheck:
      test: ["CMD", "redis-cli", "ping"]
      interval: 5s
      retries: 5
    networks: [botnet]
networks:
  botnet: {}
volumes:
  postgres_data: {}
  redis_data: {}
`

const prodDescriptor = `
services:
  bot:
    image: nutrition-bot:latest
    build: .
    environment:
      BOT_TOKEN: ${BOT_TOKEN}
    healthcheck:
      test: ["CMD", "python", "-c", "import os; os.kill(1, 0)"]
      interval: 10s
      timeout: 5s
      retries: 3
      start_period: 20s
    deploy:
      replicas: 2
    networks: [backend]
  postgres:
    image: postgres:16-alpine
    environment:
      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD}
    volumes:
      - postgres_data:/var/lib/postgresql/data
    healthcheck:
      test: ["CMD-SHELL", "pg_isready"]
    networks: [backend]
  redis:
    image: redis:7-alpine
    volumes:
      - redis_data:/data
    networks: [backend]
networks:
  backend:
    driver: overlay
volumes:
  postgres_data: {}
  redis_data: {}
`

var testEnv = map[string]string{
	"POSTGRES_USER":     "bot",
	"POSTGRES_PASSWORD": "s3cret",
	"POSTGRES_DB":       "nutrition",
	"REDIS_PASSWORD":    "r3dis",
	"BOT_TOKEN":         "123:abc",
}

// fullProdDescriptor uses the compose-spec forms compose-go expands into
// shapes the stack loader rejects.
const fullProdDescriptor = `
services:
  bot:
    image: nutrition-bot:latest
    depends_on:
      postgres:
        condition: service_healthy
      redis:
        condition: service_started
    ports:
      - "8080:8080"
      - target: 9090
        published: "9091"
        protocol: tcp
        host_ip: 127.0.0.1
    env_file:
      - .env
      - path: secrets.env
        required: false
    volumes:
      - ./config:/app/config:ro
    healthcheck:
      test: ["CMD", "true"]
      start_interval: 2s
    networks: [backend]
  postgres:
    image: postgres:16-alpine
    volumes:
      - postgres_data:/var/lib/postgresql/data
    networks: [backend]
  redis:
    image: redis:7-alpine
    networks: [backend]
networks:
  backend: {}
volumes:
  postgres_data: {}
`

const rangedPortDescriptor = `
services:
  bot:
    image: nutrition-bot:latest
    ports:
      - target: 80
        published: "8000-8001"
`
