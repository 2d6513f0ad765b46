package mysql

import (
	"context"
	"fmt"
)

// ConsumeProcedure アトミック減算のストアドプロシージャ名
const ConsumeProcedure = "consume_credits"

// statements スキーマ定義。プロシージャ本体を含むため1文ずつ実行する
var statements = []string{
	`CREATE TABLE IF NOT EXISTS users (
    user_id VARCHAR(255) NOT NULL PRIMARY KEY,
    credits BIGINT NOT NULL DEFAULT 0,
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS credit_transactions (
    id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    transaction_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    amount BIGINT NOT NULL,
    action VARCHAR(64) NOT NULL,
    ref_id VARCHAR(128) NULL,
    description VARCHAR(255) NOT NULL DEFAULT '',
    balance_after BIGINT NOT NULL,
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    UNIQUE KEY uk_credit_tx_transaction_id (transaction_id),
    UNIQUE KEY uk_credit_tx_idempotency (user_id, ref_id, action),
    KEY idx_credit_tx_user_created (user_id, created_at),
    CONSTRAINT fk_credit_tx_user FOREIGN KEY (user_id) REFERENCES users (user_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS redeem_codes (
    code CHAR(8) NOT NULL PRIMARY KEY,
    amount BIGINT NOT NULL,
    used BOOLEAN NOT NULL DEFAULT FALSE,
    used_by VARCHAR(255) NULL,
    used_at DATETIME(6) NULL,
    expires_at DATETIME(6) NULL,
    disabled BOOLEAN NOT NULL DEFAULT FALSE,
    disabled_at DATETIME(6) NULL,
    disabled_by VARCHAR(255) NULL,
    note VARCHAR(255) NOT NULL DEFAULT '',
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    KEY idx_redeem_codes_created (created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS pending_compensations (
    compensation_id VARCHAR(64) NOT NULL PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    amount BIGINT NOT NULL,
    reason VARCHAR(255) NOT NULL DEFAULT '',
    ref_id VARCHAR(128) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'pending',
    retry_count INT NOT NULL DEFAULT 0,
    last_error TEXT NULL,
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
    KEY idx_pending_comp_status_created (status, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ledger_relay_cursors (
    name VARCHAR(64) NOT NULL PRIMARY KEY,
    last_id BIGINT NOT NULL DEFAULT 0,
    updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`DROP PROCEDURE IF EXISTS ` + ConsumeProcedure,

	`CREATE PROCEDURE ` + ConsumeProcedure + ` (
    IN p_transaction_id VARCHAR(64),
    IN p_user_id VARCHAR(255),
    IN p_amount BIGINT,
    IN p_action VARCHAR(64),
    IN p_ref_id VARCHAR(128),
    IN p_description VARCHAR(255)
)
proc: BEGIN
    DECLARE v_cached BIGINT DEFAULT NULL;
    DECLARE v_balance BIGINT DEFAULT 0;

    SELECT credits INTO v_cached FROM users WHERE user_id = p_user_id FOR UPDATE;
    IF v_cached IS NULL THEN
        SELECT 'not_found' AS outcome, 0 AS balance;
        LEAVE proc;
    END IF;

    SELECT COALESCE(SUM(amount), 0) INTO v_balance
    FROM credit_transactions WHERE user_id = p_user_id FOR SHARE;

    IF v_balance < p_amount THEN
        IF v_cached <> v_balance THEN
            UPDATE users SET credits = v_balance WHERE user_id = p_user_id;
        END IF;
        SELECT 'insufficient' AS outcome, v_balance AS balance;
        LEAVE proc;
    END IF;

    INSERT INTO credit_transactions
        (transaction_id, user_id, amount, action, ref_id, description, balance_after)
    VALUES
        (p_transaction_id, p_user_id, -p_amount, p_action, p_ref_id, p_description, v_balance - p_amount);

    UPDATE users SET credits = v_balance - p_amount WHERE user_id = p_user_id;

    SELECT 'applied' AS outcome, v_balance - p_amount AS balance;
END`,
}

// Migrate テーブル、インデックス、プロシージャを作成する（何度実行してもよい）
func Migrate(ctx context.Context, db *DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
