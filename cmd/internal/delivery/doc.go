// Package delivery gets verification and password reset tokens to users.
//
// The API process publishes an EmailJob per token on a RabbitMQ queue
// (QueueSender). A separate worker consumes the queue, renders the job and
// hands it to Mailgun. LogSender is the development stand-in that only logs.
package delivery
