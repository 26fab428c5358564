package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_http_requests_total",
			Help: "Total number of HTTP requests processed by the im service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "im_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "im_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "im_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	presenceOnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "im_presence_online_users",
			Help: "Users in the last broadcast roster.",
		},
	)
	presenceEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "im_presence_evictions_total",
			Help: "Users evicted by the heartbeat monitor.",
		},
	)
	messagesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_messages_routed_total",
			Help: "Send requests by outcome.",
		},
		[]string{"result"},
	)
	routeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "im_message_route_duration_seconds",
			Help:    "Time from send request to last side effect.",
			Buckets: prometheus.DefBuckets,
		},
	)
	readReceiptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_read_receipts_total",
			Help: "Mark-read requests by outcome.",
		},
		[]string{"outcome"},
	)
	deliveryDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_delivery_dropped_total",
			Help: "Frames that could not be queued for a connection.",
		},
		[]string{"channel"},
	)
	relayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_relay_errors_total",
			Help: "Cross-instance relay failures by stage.",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		presenceOnlineUsers,
		presenceEvictionsTotal,
		messagesRoutedTotal,
		routeDuration,
		readReceiptsTotal,
		deliveryDroppedTotal,
		relayErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func SetOnlineUsers(n int) {
	presenceOnlineUsers.Set(float64(n))
}

func IncPresenceEviction() {
	presenceEvictionsTotal.Inc()
}

// ObserveRoute records one send request. result is "delivered",
// "validation_error" or "send_error".
func ObserveRoute(result string, started time.Time) {
	messagesRoutedTotal.WithLabelValues(result).Inc()
	routeDuration.Observe(time.Since(started).Seconds())
}

func IncReadReceipt(outcome string) {
	readReceiptsTotal.WithLabelValues(outcome).Inc()
}

func IncDeliveryDropped(channel string) {
	deliveryDroppedTotal.WithLabelValues(channel).Inc()
}

// IncRelayError counts relay failures. stage is publish, decode or liveness.
func IncRelayError(stage string) {
	relayErrorsTotal.WithLabelValues(stage).Inc()
}
