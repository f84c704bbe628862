package storage

import "fmt"

// Migrate ensures the required tables are present.
func Migrate(db *DB) error {
	var stmts []string
	switch db.Driver {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS profiles (
				user_id TEXT PRIMARY KEY,
				name TEXT,
				age INTEGER,
				gender TEXT,
				role TEXT NOT NULL DEFAULT 'patient',
				email TEXT,
				image TEXT,
				username TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_profiles_role ON profiles(role)`,
			`CREATE TABLE IF NOT EXISTS cases (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'Opened',
				input_text TEXT NOT NULL,
				input_image TEXT,
				input_voice TEXT,
				conversation_history TEXT NOT NULL DEFAULT '[]',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cases_user ON cases(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at DESC)`,
			`CREATE TABLE IF NOT EXISTS triage_results (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				case_id TEXT NOT NULL,
				labels TEXT NOT NULL DEFAULT '[]',
				summary TEXT NOT NULL,
				recommended_action TEXT NOT NULL,
				risk_score REAL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY(case_id) REFERENCES cases(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_triage_results_case ON triage_results(case_id)`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES profiles(user_id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS profiles (
				user_id VARCHAR(128) NOT NULL,
				name VARCHAR(255),
				age INT,
				gender VARCHAR(50),
				role VARCHAR(50) NOT NULL DEFAULT 'patient',
				email VARCHAR(255),
				image TEXT,
				username VARCHAR(255),
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (user_id),
				INDEX idx_profiles_role (role)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS cases (
				id VARCHAR(64) NOT NULL,
				user_id VARCHAR(128) NOT NULL,
				status VARCHAR(50) NOT NULL DEFAULT 'Opened',
				input_text MEDIUMTEXT NOT NULL,
				input_image TEXT,
				input_voice TEXT,
				conversation_history MEDIUMTEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_cases_user (user_id),
				INDEX idx_cases_created_at (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS triage_results (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				case_id VARCHAR(64) NOT NULL,
				labels TEXT NOT NULL,
				summary MEDIUMTEXT NOT NULL,
				recommended_action TEXT NOT NULL,
				risk_score DOUBLE,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_triage_results_case (case_id),
				CONSTRAINT fk_triage_case FOREIGN KEY (case_id) REFERENCES cases(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token VARCHAR(255) NOT NULL PRIMARY KEY,
				user_id VARCHAR(128) NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				INDEX idx_user_tokens_user (user_id),
				CONSTRAINT fk_user_tokens_profile FOREIGN KEY (user_id) REFERENCES profiles(user_id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS profiles (
				user_id TEXT PRIMARY KEY,
				name TEXT,
				age INTEGER,
				gender TEXT,
				role TEXT NOT NULL DEFAULT 'patient',
				email TEXT,
				image TEXT,
				username TEXT,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_profiles_role ON profiles(role)`,
			`CREATE TABLE IF NOT EXISTS cases (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'Opened',
				input_text TEXT NOT NULL,
				input_image TEXT,
				input_voice TEXT,
				conversation_history TEXT NOT NULL DEFAULT '[]',
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cases_user ON cases(user_id)`,
			`CREATE TABLE IF NOT EXISTS triage_results (
				id BIGSERIAL PRIMARY KEY,
				case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
				labels TEXT NOT NULL DEFAULT '[]',
				summary TEXT NOT NULL,
				recommended_action TEXT NOT NULL,
				risk_score DOUBLE PRECISION,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_triage_results_case ON triage_results(case_id)`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES profiles(user_id) ON DELETE CASCADE,
				created_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", db.Driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", db.Driver, err)
		}
	}
	return nil
}
