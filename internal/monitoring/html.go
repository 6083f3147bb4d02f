package monitoring

// dashboardHTML is the static page served at /. It polls the JSON API
// every 5 seconds.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>SlipStream Anomaly Detection Dashboard</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            margin: 0;
            padding: 20px;
            background: #f5f5f5;
        }
        .dashboard { max-width: 1200px; margin: 0 auto; }
        .header {
            background: white;
            padding: 20px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
            margin-bottom: 20px;
        }
        .metrics-grid {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(250px, 1fr));
            gap: 20px;
            margin-bottom: 20px;
        }
        .metric-card {
            background: white;
            padding: 20px;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
        }
        .metric-value { font-size: 2em; font-weight: bold; color: #2563eb; }
        .metric-label { color: #6b7280; margin-top: 8px; }
        .anomaly-list {
            background: white;
            border-radius: 8px;
            box-shadow: 0 2px 4px rgba(0,0,0,0.1);
            overflow: hidden;
        }
        .anomaly-item { padding: 15px 20px; border-bottom: 1px solid #e5e7eb; }
        .anomaly-item:last-child { border-bottom: none; }
        .anomaly-score { float: right; color: #ef4444; }
        .anomaly-detail { color: #6b7280; }
        .status-indicator {
            display: inline-block;
            width: 12px;
            height: 12px;
            border-radius: 50%;
            margin-right: 8px;
        }
        .status-healthy { background: #10b981; }
        .status-error { background: #ef4444; }
        h1, h2 { margin: 0 0 20px 0; }
        h1 { color: #1f2937; }
        h2 { color: #374151; }
        .loading { text-align: center; color: #6b7280; padding: 20px; }
    </style>
</head>
<body>
    <div class="dashboard">
        <div class="header">
            <h1>SlipStream Anomaly Detection Dashboard</h1>
            <span id="health-indicator" class="status-indicator"></span>
            <span id="health-text">Checking system health...</span>
        </div>

        <div class="metrics-grid">
            <div class="metric-card">
                <div class="metric-value" id="total-transactions">-</div>
                <div class="metric-label">Total Transactions</div>
            </div>
            <div class="metric-card">
                <div class="metric-value" id="total-anomalies">-</div>
                <div class="metric-label">Anomalies Detected</div>
            </div>
            <div class="metric-card">
                <div class="metric-value" id="anomaly-rate">-</div>
                <div class="metric-label">Anomaly Rate</div>
            </div>
            <div class="metric-card">
                <div class="metric-value" id="processing-time">-</div>
                <div class="metric-label">Avg Processing Time (ms)</div>
            </div>
        </div>

        <div class="anomaly-list">
            <h2 style="padding: 20px 20px 0 20px;">Recent Anomalies</h2>
            <div id="anomaly-feed" class="loading">Loading recent anomalies...</div>
        </div>
    </div>

    <script>
        let refreshInterval;

        async function fetchMetrics() {
            try {
                const [metricsRes, healthRes, anomaliesRes] = await Promise.all([
                    fetch('/api/metrics'),
                    fetch('/api/health'),
                    fetch('/api/anomalies')
                ]);

                const metrics = await metricsRes.json();
                const health = await healthRes.json();
                const anomalies = await anomaliesRes.json();

                updateMetrics(metrics);
                updateHealth(health);
                updateAnomalies(anomalies);
            } catch (error) {
                console.error('Error fetching data:', error);
                updateHealth({ healthy: false });
            }
        }

        function updateMetrics(metrics) {
            document.getElementById('total-transactions').textContent = metrics.totalTransactions.toLocaleString();
            document.getElementById('total-anomalies').textContent = metrics.totalAnomalies.toLocaleString();
            document.getElementById('anomaly-rate').textContent = (metrics.anomalyRate * 100).toFixed(2) + '%';
            document.getElementById('processing-time').textContent = metrics.averageProcessingTime.toFixed(1);
        }

        function updateHealth(health) {
            const indicator = document.getElementById('health-indicator');
            const text = document.getElementById('health-text');

            if (health.healthy) {
                indicator.className = 'status-indicator status-healthy';
                text.textContent = 'System Healthy';
            } else {
                indicator.className = 'status-indicator status-error';
                text.textContent = 'System Issues Detected';
            }
        }

        function updateAnomalies(anomalies) {
            const feed = document.getElementById('anomaly-feed');
            feed.className = '';

            if (anomalies.length === 0) {
                feed.innerHTML = '<div class="anomaly-item">No recent anomalies detected</div>';
                return;
            }

            feed.innerHTML = anomalies.slice(0, 10).map(function (anomaly) {
                return '<div class="anomaly-item">' +
                    '<strong>Transaction ' + anomaly.transactionId + '</strong>' +
                    '<span class="anomaly-score">Score: ' + anomaly.score.toFixed(3) + '</span>' +
                    '<br><small class="anomaly-detail">' +
                    anomaly.type + ' &bull; ' + new Date(anomaly.timestamp).toLocaleString() +
                    '</small></div>';
            }).join('');
        }

        fetchMetrics();
        refreshInterval = setInterval(fetchMetrics, 5000);

        window.addEventListener('beforeunload', function () {
            if (refreshInterval) clearInterval(refreshInterval);
        });
    </script>
</body>
</html>
`
