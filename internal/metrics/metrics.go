// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordLoginSuccess(flavor string)
	RecordLoginFailure(flavor string, reason string)
	RecordTokenIssued()
	RecordTokenLookup(result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginSuccess *prometheus.CounterVec
	loginFail    *prometheus.CounterVec
	tokensIssued prometheus.Counter
	tokenLookups *prometheus.CounterVec
	httpStatus   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "komek_login_success_total",
			Help: "ログイン成功の合計数（チャネル別）",
		}, []string{"flavor"}),
		loginFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "komek_login_fail_total",
			Help: "ログイン失敗の合計数（チャネル・理由別）",
		}, []string{"flavor", "reason"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "komek_app_tokens_issued_total",
			Help: "発行されたアプリトークンの合計数",
		}),
		tokenLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "komek_app_token_lookups_total",
			Help: "アプリトークン照合の合計数（結果別）",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "komek_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFail,
		c.tokensIssued,
		c.tokenLookups,
		c.httpStatus,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。flavorはwebまたはapp。
func (c *Collector) RecordLoginSuccess(flavor string) {
	c.loginSuccess.WithLabelValues(flavor).Inc()
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure(flavor string, reason string) {
	c.loginFail.WithLabelValues(flavor, reason).Inc()
}

// RecordTokenIssued はアプリトークンの発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordTokenLookup はアプリトークンの照合結果を記録する。
// resultはhit、miss、expiredのいずれか。
func (c *Collector) RecordTokenLookup(result string) {
	c.tokenLookups.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
