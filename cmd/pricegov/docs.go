package main

//go:generate swag init -g cmd/pricegov/docs.go -o docs

// @title           Pricegov API
// @version         0.1.0
// @description     Market data ingestion, price proposals and guarded price changes.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
