// Package all links every ledger backend into the binary.
package all

import (
	_ "metricize/internal/ledger/mssql"
	_ "metricize/internal/ledger/postgres"
	_ "metricize/internal/ledger/sqlite"
)
