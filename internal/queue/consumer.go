package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// StartAuditConsumer connects to RabbitMQ, declares the three domain-event
// queues (durable), and starts consuming them. Each message is appended to
// logs/audit.log in a single-line, human-friendly format. The function runs
// a reconnect loop per queue; it keeps running and logs any processing
// errors while rejecting the offending message so the server continues
// operating.
func StartAuditConsumer() {
	for _, q := range []string{BalanceChangedQueue, RegistrationConfirmedQueue, WithdrawalFulfilledQueue} {
		go consumeForever(q)
	}
}

func consumeForever(queueName string) {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(brokerURL())
		if err != nil {
			log.Printf("audit-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := consumeLoop(conn, queueName); err != nil {
			log.Printf("audit-consumer: consume loop for %s ended: %v; reconnecting", queueName, err)
			time.Sleep(2 * time.Second)
			continue
		}
	}
}

func consumeLoop(conn *amqp.Connection, queueName string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("audit-consumer: set QoS failed: %v", err)
	}

	_, err = ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := handleMessage(queueName, d.Body); err != nil {
			log.Printf("audit-consumer: handle message failed: %v", err)
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func handleMessage(queueName string, body []byte) error {
	line, err := formatAuditLine(queueName, body)
	if err != nil {
		return err
	}
	// Ensure logs directory exists
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	fpath := filepath.Join("logs", "audit.log")
	f, err := os.OpenFile(fpath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatAuditLine(queueName string, body []byte) (string, error) {
	switch queueName {
	case BalanceChangedQueue:
		var ev BalanceChangedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Balance changed | txn_id=%d | student_id=%d | %s %d piastres | reason=%s | balance %d -> %d | initiated_by=%d\n",
			ev.OccurredAt, ev.TransactionID, ev.StudentID, ev.TxnType, ev.Amount, ev.Reason, ev.OldBalance, ev.NewBalance, ev.InitiatedBy), nil
	case RegistrationConfirmedQueue:
		var ev RegistrationConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Registration confirmed | registration_id=%d | student_id=%d | session_id=%d | subject_id=%d | type=%s | price=%d piastres | payment_id=%q\n",
			ev.ConfirmedAt, ev.RegistrationID, ev.StudentID, ev.SessionID, ev.SubjectID, ev.RegistrationType, ev.Price, ev.PaymentID), nil
	case WithdrawalFulfilledQueue:
		var ev WithdrawalFulfilledEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Withdrawal %s | request_id=%d | student_id=%d | requested=%d piastres | released=%d piastres | admin_id=%d\n",
			ev.FulfilledAt, ev.Status, ev.RequestID, ev.StudentID, ev.Requested, ev.Released, ev.AdminID), nil
	}
	return "", fmt.Errorf("unknown queue %q", queueName)
}
