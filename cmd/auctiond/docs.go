package main

//go:generate swag init -g cmd/auctiond/main.go -o docs

// @title           Auction House API
// @version         0.1.0
// @description     Single-lane NFT auction venue: seller deposits, operator moderation, live bidding.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
